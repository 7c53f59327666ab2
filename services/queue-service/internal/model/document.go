package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Document is the loosely typed record shape of the appointments collection.
type Document map[string]any

const (
	defaultRoomDurationMinutes   = 40
	defaultSimpleDurationMinutes = 30
)

// DecodeAppointment is the only place store documents become appointments.
// Every defaulting rule lives here:
//   - missing duracao: 40 minutes when a room tag is set, 30 otherwise
//   - cancelamentos: number, or the string "exceeded"
//   - missing status: confirmed when presente is set, awaiting otherwise
//   - missing timestamp: creation time in unix millis
func DecodeAppointment(doc Document) (Appointment, error) {
	var a Appointment
	a.ID = str(doc["id"])
	if a.ID == "" {
		return Appointment{}, fmt.Errorf("decode appointment: missing id")
	}
	a.Customer = Customer{
		ID:    str(doc["customer_id"]),
		Name:  str(doc["nome"]),
		Email: str(doc["email"]),
		Phone: str(doc["telefone"]),
		TaxID: str(doc["cpf"]),
	}
	a.ServiceID = str(doc["service_id"])
	a.ServiceName = str(doc["servico"])
	a.Room = strings.TrimSpace(str(doc["sala"]))
	a.EmployeeID = str(doc["funcionario_id"])
	a.PaymentMethod = PaymentMethod(strings.ToLower(str(doc["forma_pagamento"])))
	a.Present = boolean(doc["presente"])
	a.Rescheduled = boolean(doc["reagendado"])

	price, err := money(doc["preco"])
	if err != nil {
		return Appointment{}, fmt.Errorf("decode appointment %s: preco: %w", a.ID, err)
	}
	a.Price = price

	a.DurationMinutes = integer(doc["duracao"])
	if a.DurationMinutes <= 0 {
		if a.Room != "" {
			a.DurationMinutes = defaultRoomDurationMinutes
		} else {
			a.DurationMinutes = defaultSimpleDurationMinutes
		}
	}

	start, err := instant(doc["inicio"])
	if err != nil {
		return Appointment{}, fmt.Errorf("decode appointment %s: inicio: %w", a.ID, err)
	}
	a.SetSchedule(start)

	if a.CreatedAt, err = instant(doc["criado_em"]); err != nil {
		return Appointment{}, fmt.Errorf("decode appointment %s: criado_em: %w", a.ID, err)
	}
	if a.UpdatedAt, err = instant(doc["atualizado_em"]); err != nil {
		return Appointment{}, fmt.Errorf("decode appointment %s: atualizado_em: %w", a.ID, err)
	}

	a.Seq = int64(integer(doc["timestamp"]))
	if a.Seq == 0 && !a.CreatedAt.IsZero() {
		a.Seq = a.CreatedAt.UnixMilli()
	}

	switch v := doc["cancelamentos"].(type) {
	case string:
		if strings.EqualFold(v, "exceeded") {
			a.Cancellations = CancellationsExceeded
		}
	default:
		a.Cancellations = integer(v)
	}
	if a.Cancellations > CancellationsExceeded {
		a.Cancellations = CancellationsExceeded
	}

	a.Status = Status(str(doc["status"]))
	if a.Status == "" {
		if a.Present {
			a.Status = StatusConfirmed
		} else {
			a.Status = StatusAwaitingConfirmation
		}
	}
	if !a.Status.Valid() {
		return Appointment{}, fmt.Errorf("decode appointment %s: unknown status %q", a.ID, a.Status)
	}

	if t, err := instant(doc["tempo_inicio"]); err == nil && !t.IsZero() {
		a.ServiceStartedAt = &t
	}
	if t, err := instant(doc["tempo_fim"]); err == nil && !t.IsZero() {
		a.ServiceEndsAt = &t
	}
	if a.Status == StatusInService {
		// a service window is always complete once in service
		if a.ServiceStartedAt == nil {
			started := a.ScheduledStart
			a.ServiceStartedAt = &started
		}
		if a.ServiceEndsAt == nil {
			ends := a.ServiceStartedAt.Add(a.Duration())
			a.ServiceEndsAt = &ends
		}
	}

	if boolean(doc["pagamento_parcial"]) {
		p := &PartialPayment{Status: RemainingStatus(str(doc["status_restante"]))}
		if p.Total, err = money(doc["valor_total"]); err != nil {
			return Appointment{}, fmt.Errorf("decode appointment %s: valor_total: %w", a.ID, err)
		}
		if p.Paid, err = money(doc["valor_pago"]); err != nil {
			return Appointment{}, fmt.Errorf("decode appointment %s: valor_pago: %w", a.ID, err)
		}
		if p.Remaining, err = money(doc["valor_parcial_restante"]); err != nil {
			return Appointment{}, fmt.Errorf("decode appointment %s: valor_parcial_restante: %w", a.ID, err)
		}
		if p.Status == "" {
			p.Status = RemainingPending
		}
		if t, err := instant(doc["quitado_em"]); err == nil && !t.IsZero() {
			p.SettledAt = &t
		}
		a.Partial = p
	}
	a.Traceparent = str(doc["traceparent"])
	a.Tracestate = str(doc["tracestate"])
	return a, nil
}

// EncodeAppointment is the inverse of DecodeAppointment.
func EncodeAppointment(a Appointment) Document {
	doc := Document{
		"id":              a.ID,
		"customer_id":     a.Customer.ID,
		"nome":            a.Customer.Name,
		"email":           a.Customer.Email,
		"telefone":        a.Customer.Phone,
		"service_id":      a.ServiceID,
		"servico":         a.ServiceName,
		"sala":            a.Room,
		"funcionario_id":  a.EmployeeID,
		"preco":           a.Price.StringFixed(2),
		"inicio":          a.ScheduledStart.UTC().Format(time.RFC3339),
		"fim":             a.ScheduledEnd.UTC().Format(time.RFC3339),
		"criado_em":       a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"atualizado_em":   a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"timestamp":       a.Seq,
		"duracao":         a.DurationMinutes,
		"presente":        a.Present,
		"forma_pagamento": string(a.PaymentMethod),
		"reagendado":      a.Rescheduled,
		"status":          string(a.Status),
	}
	if a.Customer.TaxID != "" {
		doc["cpf"] = a.Customer.TaxID
	}
	if a.Cancellations >= CancellationsExceeded {
		doc["cancelamentos"] = "exceeded"
	} else {
		doc["cancelamentos"] = a.Cancellations
	}
	if a.ServiceStartedAt != nil {
		doc["tempo_inicio"] = a.ServiceStartedAt.UTC().Format(time.RFC3339Nano)
	}
	if a.ServiceEndsAt != nil {
		doc["tempo_fim"] = a.ServiceEndsAt.UTC().Format(time.RFC3339Nano)
	}
	if a.Partial != nil {
		doc["pagamento_parcial"] = true
		doc["valor_total"] = a.Partial.Total.StringFixed(2)
		doc["valor_pago"] = a.Partial.Paid.StringFixed(2)
		doc["valor_parcial_restante"] = a.Partial.Remaining.StringFixed(2)
		doc["status_restante"] = string(a.Partial.Status)
		if a.Partial.SettledAt != nil {
			doc["quitado_em"] = a.Partial.SettledAt.UTC().Format(time.RFC3339Nano)
		}
	}
	if a.Traceparent != "" {
		doc["traceparent"] = a.Traceparent
		doc["tracestate"] = a.Tracestate
	}
	return doc
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || t == "1"
	}
	return false
}

func integer(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case float32:
		return int(t)
	case string:
		var n int
		if _, err := fmt.Sscan(t, &n); err == nil {
			return n
		}
	}
	return 0
}

func money(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported money value %T", v)
}

func instant(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, t)
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}
