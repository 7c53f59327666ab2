package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/barberqueue/libs/db"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// PostgresStore keeps each live appointment as a jsonb document next to the
// columns the constraints need.
type PostgresStore struct {
	pool     *db.Pool
	logger   *slog.Logger
	fallback model.ScheduleConfig
}

func NewPostgresStore(pool *db.Pool, logger *slog.Logger, fallback model.ScheduleConfig) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger, fallback: fallback.Defaults()}
}

func encodeDoc(a model.Appointment) ([]byte, error) {
	return json.Marshal(model.EncodeAppointment(a))
}

func decodeDoc(raw []byte) (model.Appointment, error) {
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Appointment{}, err
	}
	return model.DecodeAppointment(doc)
}

func (s *PostgresStore) Insert(ctx context.Context, appt model.Appointment) error {
	doc, err := encodeDoc(appt)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO appointments (id, room, customer_id, status, scheduled_start, scheduled_end, seq, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.Room, appt.Customer.ID, string(appt.Status), appt.ScheduledStart, appt.ScheduledEnd, appt.Seq, doc, appt.UpdatedAt)
	if IsConflict(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM appointments WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return decodeDoc(raw)
}

func (s *PostgresStore) Update(ctx context.Context, appt model.Appointment, expected model.Status) error {
	doc, err := encodeDoc(appt)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET room = $2,
			customer_id = $3,
			status = $4,
			scheduled_start = $5,
			scheduled_end = $6,
			doc = $7,
			updated_at = $8
		WHERE id = $1 AND status = $9
	`, appt.ID, appt.Room, appt.Customer.ID, string(appt.Status), appt.ScheduledStart, appt.ScheduledEnd, doc, appt.UpdatedAt, string(expected))
	if IsConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.missingOrStale(ctx, appt.ID)
}

func (s *PostgresStore) Promote(ctx context.Context, appt model.Appointment) (bool, error) {
	if appt.ServiceStartedAt == nil || appt.ServiceEndsAt == nil {
		return false, fmt.Errorf("promote %s: service window not set", appt.ID)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments a
		SET status = 'in_service',
			doc = a.doc || jsonb_build_object(
				'status', 'in_service',
				'tempo_inicio', $2::text,
				'tempo_fim', $3::text,
				'atualizado_em', $4::text),
			updated_at = $5
		WHERE a.id = $1
			AND a.status = 'confirmed'
			AND NOT EXISTS (
				SELECT 1 FROM appointments s
				WHERE s.room = a.room AND s.status = 'in_service'
			)
	`, appt.ID,
		appt.ServiceStartedAt.UTC().Format(time.RFC3339Nano),
		appt.ServiceEndsAt.UTC().Format(time.RFC3339Nano),
		appt.UpdatedAt.UTC().Format(time.RFC3339Nano),
		appt.UpdatedAt)
	if IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Complete(ctx context.Context, fin model.FinalizedAppointment) error {
	doc, err := encodeDoc(fin.Appointment)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `
		DELETE FROM appointments WHERE id = $1 AND status = 'in_service' RETURNING id
	`, fin.ID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrStale(ctx, fin.ID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO finalized_appointments (id, doc, completed_at, discount, measurements, notes, finished_by)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	`, fin.ID, doc, fin.CompletedAt, fin.Discount.StringFixed(2), fin.Measurements, fin.Notes, string(fin.FinishedBy)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListActive(ctx context.Context, f Filter) ([]model.Appointment, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc
		FROM appointments
		WHERE ($1 = '' OR room = $1)
			AND ($2 = '' OR customer_id = $2)
			AND ($3::timestamptz IS NULL OR scheduled_start >= $3)
			AND ($4::timestamptz IS NULL OR scheduled_start < $4)
		ORDER BY scheduled_start ASC, seq ASC
	`, f.Room, f.CustomerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		a, err := decodeDoc(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable appointment", "err", err)
			continue
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) GetFinalized(ctx context.Context, id string) (model.FinalizedAppointment, error) {
	var (
		raw      []byte
		discount string
		by       string
		fin      model.FinalizedAppointment
	)
	err := s.pool.QueryRow(ctx, `
		SELECT doc, completed_at, discount::text, measurements, notes, finished_by
		FROM finalized_appointments
		WHERE id = $1
	`, id).Scan(&raw, &fin.CompletedAt, &discount, &fin.Measurements, &fin.Notes, &by)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.FinalizedAppointment{}, model.ErrNotFound
	}
	if err != nil {
		return model.FinalizedAppointment{}, err
	}
	if fin.Appointment, err = decodeDoc(raw); err != nil {
		return model.FinalizedAppointment{}, err
	}
	if fin.Discount, err = decimal.NewFromString(discount); err != nil {
		return model.FinalizedAppointment{}, err
	}
	fin.FinishedBy = model.FinishedBy(by)
	return fin, nil
}

func (s *PostgresStore) UpdateFinalized(ctx context.Context, fin model.FinalizedAppointment) error {
	doc, err := encodeDoc(fin.Appointment)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE finalized_appointments
		SET doc = $2, discount = $3::numeric, measurements = $4, notes = $5
		WHERE id = $1
	`, fin.ID, doc, fin.Discount.StringFixed(2), fin.Measurements, fin.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetService(ctx context.Context, id string) (model.Service, error) {
	var svc model.Service
	var price string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, price::text, duration_minutes, room FROM services WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &price, &svc.DurationMinutes, &svc.Room)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, model.ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	if svc.Price, err = decimal.NewFromString(price); err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (s *PostgresStore) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	var e model.Employee
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, active, specialties, duration_overrides FROM employees WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Active, &e.Specialties, &e.DurationOverrides)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Employee{}, model.ErrNotFound
	}
	return e, err
}

// Schedule reads the single configuration row, falling back to the file
// configuration when the table is empty.
func (s *PostgresStore) Schedule(ctx context.Context) (model.ScheduleConfig, error) {
	var (
		cfg  model.ScheduleConfig
		days []int32
	)
	err := s.pool.QueryRow(ctx, `
		SELECT operating_days, open_time, close_time, slot_step_minutes, horizon_days, timezone, rooms
		FROM schedule_config WHERE id = 1
	`).Scan(&days, &cfg.Open, &cfg.Close, &cfg.SlotStepMinutes, &cfg.HorizonDays, &cfg.Timezone, &cfg.Rooms)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	for _, d := range days {
		cfg.OperatingDays = append(cfg.OperatingDays, time.Weekday(d))
	}
	return cfg.Defaults(), nil
}

// Seed upserts the catalog so a fresh database matches the configuration file.
func (s *PostgresStore) Seed(ctx context.Context, c Catalog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, svc := range c.Services {
		if _, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, price, duration_minutes, room)
			VALUES ($1, $2, $3::numeric, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, price = EXCLUDED.price,
				duration_minutes = EXCLUDED.duration_minutes, room = EXCLUDED.room
		`, svc.ID, svc.Name, svc.Price.StringFixed(2), svc.DurationMinutes, svc.Room); err != nil {
			return fmt.Errorf("seed service %s: %w", svc.ID, err)
		}
	}
	for _, e := range c.Employees {
		overrides := e.DurationOverrides
		if overrides == nil {
			overrides = map[string]int{}
		}
		specialties := e.Specialties
		if specialties == nil {
			specialties = []string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO employees (id, name, active, specialties, duration_overrides)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, active = EXCLUDED.active,
				specialties = EXCLUDED.specialties, duration_overrides = EXCLUDED.duration_overrides
		`, e.ID, e.Name, e.Active, specialties, overrides); err != nil {
			return fmt.Errorf("seed employee %s: %w", e.ID, err)
		}
	}

	cfg := c.Schedule.Defaults()
	days := make([]int32, 0, len(cfg.OperatingDays))
	for _, d := range cfg.OperatingDays {
		days = append(days, int32(d))
	}
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = []string{}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schedule_config (id, operating_days, open_time, close_time, slot_step_minutes, horizon_days, timezone, rooms)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, days, cfg.Open, cfg.Close, cfg.SlotStepMinutes, cfg.HorizonDays, cfg.Timezone, rooms); err != nil {
		return fmt.Errorf("seed schedule: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return model.ErrNotFound
	}
	return ErrStale
}
