package realtime

import (
	"sort"
	"sync"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/automation"
)

type FrameType string

const (
	FrameSnapshot  FrameType = "snapshot"
	FrameCountdown FrameType = "countdown"
)

type Frame struct {
	Type       FrameType              `json:"type"`
	Room       string                 `json:"room"`
	Snapshot   *Snapshot              `json:"snapshot,omitempty"`
	Countdowns []automation.Countdown `json:"countdowns,omitempty"`
}

// Hub fans snapshots and countdowns out to viewers. Publishing only takes the
// read lock, so distribution runs concurrently with other publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	latestMu sync.Mutex
	latest   map[string]Snapshot
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		latest: make(map[string]Snapshot),
	}
}

// Subscription holds at most one pending snapshot and one pending countdown
// set per room. Newer values replace older undelivered ones.
type Subscription struct {
	Room string

	hub   *Hub
	ready chan struct{}

	mu         sync.Mutex
	snapshot   *Snapshot
	countdowns map[string][]automation.Countdown
}

// Subscribe registers a viewer of room, or of every room with Aggregate. The
// latest known snapshot is queued right away.
func (h *Hub) Subscribe(room string) *Subscription {
	s := &Subscription{
		Room:       room,
		hub:        h,
		ready:      make(chan struct{}, 1),
		countdowns: make(map[string][]automation.Countdown),
	}
	h.mu.Lock()
	if h.subs[room] == nil {
		h.subs[room] = make(map[*Subscription]struct{})
	}
	h.subs[room][s] = struct{}{}
	h.mu.Unlock()

	if snap, ok := h.Latest(room); ok {
		s.offerSnapshot(snap)
	}
	return s
}

func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[s.Room], s)
	if len(h.subs[s.Room]) == 0 {
		delete(h.subs, s.Room)
	}
}

// Ready is signalled whenever Next has something to return.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Next drains the pending frames, snapshot first.
func (s *Subscription) Next() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var frames []Frame
	if s.snapshot != nil {
		frames = append(frames, Frame{Type: FrameSnapshot, Room: s.snapshot.Room, Snapshot: s.snapshot})
		s.snapshot = nil
	}
	rooms := make([]string, 0, len(s.countdowns))
	for r := range s.countdowns {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	for _, r := range rooms {
		frames = append(frames, Frame{Type: FrameCountdown, Room: r, Countdowns: s.countdowns[r]})
		delete(s.countdowns, r)
	}
	return frames
}

func (s *Subscription) offerSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.snapshot = &snap
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) offerCountdowns(room string, cds []automation.Countdown) {
	s.mu.Lock()
	s.countdowns[room] = cds
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// PublishSnapshot delivers snap to the viewers of snap.Room only.
func (h *Hub) PublishSnapshot(snap Snapshot) {
	h.latestMu.Lock()
	h.latest[snap.Room] = snap
	h.latestMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[snap.Room] {
		s.offerSnapshot(snap)
	}
}

// PublishCountdowns delivers a room's countdowns to its viewers and to the
// aggregate viewers.
func (h *Hub) PublishCountdowns(room string, cds []automation.Countdown) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[room] {
		s.offerCountdowns(room, cds)
	}
	if room == Aggregate {
		return
	}
	for s := range h.subs[Aggregate] {
		s.offerCountdowns(room, cds)
	}
}

func (h *Hub) Latest(room string) (Snapshot, bool) {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	snap, ok := h.latest[room]
	return snap, ok
}

var _ automation.CountdownSink = (*Hub)(nil)
