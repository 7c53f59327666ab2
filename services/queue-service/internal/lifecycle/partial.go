package lifecycle

import (
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

var oneThird = decimal.NewFromInt(1).Div(decimal.NewFromInt(3))

// NewPartial splits total into an up-front payment of fraction (one third when
// fraction is not in (0,1]) rounded to cents. The remainder absorbs rounding.
func NewPartial(total, fraction decimal.Decimal) (*model.PartialPayment, error) {
	if total.IsNegative() {
		return nil, model.ErrInvalidRequest
	}
	if !fraction.IsPositive() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = oneThird
	}
	paid := total.Mul(fraction).Round(2)
	return &model.PartialPayment{
		Total:     total,
		Paid:      paid,
		Remaining: total.Sub(paid),
		Status:    model.RemainingPending,
	}, nil
}
