package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

type Config struct {
	Tick        time.Duration
	Rooms       []string
	RetryBudget time.Duration
}

// Supervisor runs one independent loop per room tag. Rooms named in the
// configuration start with Run; rooms first seen later start on Nudge.
type Supervisor struct {
	store  storage.Store
	logger *slog.Logger
	sink   CountdownSink
	now    func() time.Time
	tick   time.Duration
	budget time.Duration

	mu    sync.Mutex
	rooms map[string]*roomLoop
	group *errgroup.Group
	gctx  context.Context

	lastTick atomic.Int64
}

type roomLoop struct {
	room     string
	nudge    chan struct{}
	inFlight atomic.Bool
}

type SupervisorOption func(*Supervisor)

func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = now }
}

func NewSupervisor(store storage.Store, sink CountdownSink, logger *slog.Logger, cfg Config, opts ...SupervisorOption) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = cfg.Tick / 2
	}
	s := &Supervisor{
		store:  store,
		logger: logger,
		sink:   sink,
		now:    time.Now,
		tick:   cfg.Tick,
		budget: cfg.RetryBudget,
		rooms:  make(map[string]*roomLoop),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, room := range cfg.Rooms {
		s.loop(room)
	}
	return s
}

// Run blocks until ctx is done or a room loop fails.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.group, s.gctx = g, gctx
	for _, l := range s.rooms {
		s.start(l)
	}
	s.mu.Unlock()
	return g.Wait()
}

// Nudge wakes the room's loop ahead of its next tick, starting a loop for a
// room that has not been seen before.
func (s *Supervisor) Nudge(room string) {
	s.mu.Lock()
	l, ok := s.rooms[room]
	if !ok {
		l = s.loop(room)
		if s.group != nil {
			s.start(l)
		}
	}
	s.mu.Unlock()
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// Ready fails when rooms are known but no tick has completed recently.
func (s *Supervisor) Ready(context.Context) error {
	s.mu.Lock()
	idle := len(s.rooms) == 0
	s.mu.Unlock()
	if idle {
		return nil
	}
	last := s.lastTick.Load()
	if last == 0 {
		return errors.New("no room tick completed yet")
	}
	if age := s.now().Sub(time.Unix(0, last)); age > 3*s.tick+s.budget {
		return fmt.Errorf("last room tick completed %s ago", age.Round(time.Second))
	}
	return nil
}

func (s *Supervisor) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// loop must be called with s.mu held or before Run.
func (s *Supervisor) loop(room string) *roomLoop {
	if l, ok := s.rooms[room]; ok {
		return l
	}
	l := &roomLoop{room: room, nudge: make(chan struct{}, 1)}
	s.rooms[room] = l
	return l
}

// start must be called with s.mu held.
func (s *Supervisor) start(l *roomLoop) {
	ctx := s.gctx
	s.group.Go(func() error {
		s.logger.Info("room loop started", "room", l.room)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-l.nudge:
			}
			if err := s.runTick(ctx, l); err != nil && ctx.Err() == nil {
				s.logger.Error("room tick failed", "room", l.room, "err", err)
			}
		}
	})
}

// runTick skips when a tick for the same room is still in flight.
func (s *Supervisor) runTick(ctx context.Context, l *roomLoop) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer l.inFlight.Store(false)
	_, err := s.Tick(ctx, l.room)
	return err
}

// PromoteOnce runs a single tick for room under the same in-flight guard as
// the room's loop.
func (s *Supervisor) PromoteOnce(ctx context.Context, room string) (TickResult, error) {
	s.mu.Lock()
	l := s.loop(room)
	s.mu.Unlock()
	if !l.inFlight.CompareAndSwap(false, true) {
		return TickResult{Skipped: true}, nil
	}
	defer l.inFlight.Store(false)
	return s.Tick(ctx, room)
}

// retry runs op with exponential backoff while its error is transient.
func retry[T any](ctx context.Context, budget time.Duration, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = budget
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !storage.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(budget))
}
