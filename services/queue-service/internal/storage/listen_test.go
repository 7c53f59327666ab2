package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

func notification(t *testing.T, op string, newDoc, oldDoc *model.Appointment) string {
	t.Helper()
	p := map[string]any{"op": op, "new": nil, "old": nil}
	if newDoc != nil {
		p["new"] = model.EncodeAppointment(*newDoc)
	}
	if oldDoc != nil {
		p["old"] = model.EncodeAppointment(*oldDoc)
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return string(raw)
}

func TestParseChange(t *testing.T) {
	a := appt("a", "hair", base, model.StatusConfirmed)

	ev, err := parseChange(notification(t, "INSERT", &a, nil))
	require.NoError(t, err)
	assert.Equal(t, Added, ev.Kind)
	assert.Nil(t, ev.Previous)
	assert.Equal(t, "a", ev.Appointment.ID)
	assert.True(t, ev.Appointment.ScheduledStart.Equal(base))

	started := a
	at := base.Add(time.Second)
	started.Status = model.StatusInService
	started.ServiceStartedAt = &at
	ev, err = parseChange(notification(t, "UPDATE", &started, &a))
	require.NoError(t, err)
	assert.Equal(t, Modified, ev.Kind)
	require.NotNil(t, ev.Previous)
	assert.Equal(t, model.StatusConfirmed, ev.Previous.Status)
	assert.Equal(t, model.StatusInService, ev.Appointment.Status)

	ev, err = parseChange(notification(t, "DELETE", nil, &started))
	require.NoError(t, err)
	assert.Equal(t, Removed, ev.Kind)
	assert.Equal(t, model.StatusCompleted, ev.Appointment.Status)

	_, err = parseChange(`{"op":"TRUNCATE"}`)
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsConflict(&pgconn.PgError{Code: "23P01"}))
	assert.True(t, IsConflict(ErrConflict))
	assert.False(t, IsConflict(errors.New("boom")))

	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransient(model.ErrSlotUnavailable))
	assert.True(t, IsNotFound(model.ErrNotFound))
}
