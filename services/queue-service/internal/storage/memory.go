package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// MemoryStore is a process-local Store with the same guarded write semantics
// as the Postgres store.
type MemoryStore struct {
	mu        sync.Mutex
	live      map[string]model.Appointment
	finalized map[string]model.FinalizedAppointment
	services  map[string]model.Service
	employees map[string]model.Employee
	schedule  model.ScheduleConfig
	feeds     map[*feed]struct{}
}

func NewMemoryStore(c Catalog) *MemoryStore {
	s := &MemoryStore{
		live:      make(map[string]model.Appointment),
		finalized: make(map[string]model.FinalizedAppointment),
		services:  make(map[string]model.Service),
		employees: make(map[string]model.Employee),
		schedule:  c.Schedule.Defaults(),
		feeds:     make(map[*feed]struct{}),
	}
	for _, svc := range c.Services {
		s.services[svc.ID] = svc
	}
	for _, e := range c.Employees {
		s.employees[e.ID] = e
	}
	return s
}

func (s *MemoryStore) Insert(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[appt.ID]; ok {
		return ErrConflict
	}
	if s.collides(appt) {
		return ErrConflict
	}
	s.live[appt.ID] = clone(appt)
	s.publish(ChangeEvent{Kind: Added, Appointment: clone(appt)})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.live[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) Update(_ context.Context, appt model.Appointment, expected model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.live[appt.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Status != expected {
		return ErrStale
	}
	if appt.Status == model.StatusInService && cur.Status != model.StatusInService && s.roomBusy(appt.Room, appt.ID) {
		return ErrConflict
	}
	if s.collides(appt) {
		return ErrConflict
	}
	s.live[appt.ID] = clone(appt)
	prev := clone(cur)
	s.publish(ChangeEvent{Kind: Modified, Appointment: clone(appt), Previous: &prev})
	return nil
}

func (s *MemoryStore) Promote(_ context.Context, appt model.Appointment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.live[appt.ID]
	if !ok || cur.Status != model.StatusConfirmed || s.roomBusy(cur.Room, cur.ID) {
		return false, nil
	}
	next := clone(cur)
	next.Status = model.StatusInService
	next.ServiceStartedAt = appt.ServiceStartedAt
	next.ServiceEndsAt = appt.ServiceEndsAt
	next.UpdatedAt = appt.UpdatedAt
	next = clone(next)
	s.live[next.ID] = next
	prev := clone(cur)
	s.publish(ChangeEvent{Kind: Modified, Appointment: clone(next), Previous: &prev})
	return true, nil
}

func (s *MemoryStore) Complete(_ context.Context, fin model.FinalizedAppointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.live[fin.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Status != model.StatusInService {
		return ErrStale
	}
	delete(s.live, fin.ID)
	fin.Appointment = clone(fin.Appointment)
	s.finalized[fin.ID] = fin
	prev := clone(cur)
	s.publish(ChangeEvent{Kind: Removed, Appointment: clone(fin.Appointment), Previous: &prev})
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, f Filter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.live))
	for _, a := range s.live {
		if f.Match(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledStart.Equal(out[j].ScheduledStart) {
			return out[i].ScheduledStart.Before(out[j].ScheduledStart)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *MemoryStore) GetFinalized(_ context.Context, id string) (model.FinalizedAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fin, ok := s.finalized[id]
	if !ok {
		return model.FinalizedAppointment{}, model.ErrNotFound
	}
	fin.Appointment = clone(fin.Appointment)
	return fin, nil
}

func (s *MemoryStore) UpdateFinalized(_ context.Context, fin model.FinalizedAppointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finalized[fin.ID]; !ok {
		return model.ErrNotFound
	}
	fin.Appointment = clone(fin.Appointment)
	s.finalized[fin.ID] = fin
	return nil
}

func (s *MemoryStore) GetService(_ context.Context, id string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return model.Service{}, model.ErrNotFound
	}
	return svc, nil
}

func (s *MemoryStore) GetEmployee(_ context.Context, id string) (model.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return model.Employee{}, model.ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Schedule(_ context.Context) (model.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, nil
}

// Subscribe replays the current live set as an Initial batch closed by a
// Synced event, then streams every change until ctx is done.
func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	f := newFeed()
	s.mu.Lock()
	initial := make([]model.Appointment, 0, len(s.live))
	for _, a := range s.live {
		initial = append(initial, clone(a))
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].Seq < initial[j].Seq })
	for _, a := range initial {
		f.push(ChangeEvent{Kind: Added, Appointment: a, Initial: true})
	}
	f.push(ChangeEvent{Kind: Synced})
	s.feeds[f] = struct{}{}
	s.mu.Unlock()

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.feeds, f)
			s.mu.Unlock()
		}()
		f.pump(ctx, out)
	}()
	return out, nil
}

// collides must be called with s.mu held.
func (s *MemoryStore) collides(appt model.Appointment) bool {
	if appt.Status.Terminal() {
		return false
	}
	for _, other := range s.live {
		if other.ID == appt.ID || other.Status.Terminal() || other.Room != appt.Room {
			continue
		}
		if appt.Room == "" {
			if other.ScheduledStart.Equal(appt.ScheduledStart) {
				return true
			}
			continue
		}
		if appt.ScheduledStart.Before(other.ScheduledEnd) && other.ScheduledStart.Before(appt.ScheduledEnd) {
			return true
		}
	}
	return false
}

// roomBusy must be called with s.mu held.
func (s *MemoryStore) roomBusy(room, exceptID string) bool {
	for _, other := range s.live {
		if other.ID != exceptID && other.Room == room && other.Status == model.StatusInService {
			return true
		}
	}
	return false
}

// publish must be called with s.mu held.
func (s *MemoryStore) publish(ev ChangeEvent) {
	for f := range s.feeds {
		f.push(ev)
	}
}

// feed is an unbounded per-subscriber queue so writers never block on a slow
// reader.
type feed struct {
	mu     sync.Mutex
	queue  []ChangeEvent
	signal chan struct{}
}

func newFeed() *feed {
	return &feed{signal: make(chan struct{}, 1)}
}

func (f *feed) push(ev ChangeEvent) {
	f.mu.Lock()
	f.queue = append(f.queue, ev)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) pump(ctx context.Context, out chan<- ChangeEvent) {
	for {
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		f.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-f.signal:
		case <-ctx.Done():
			return
		}
	}
}
