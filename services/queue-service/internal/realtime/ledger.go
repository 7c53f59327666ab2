package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/notify"
)

// Ledger records which (appointment, kind) pairs were already notified.
// Mark reports true only for the first caller.
type Ledger interface {
	Mark(ctx context.Context, appointmentID string, kind notify.Kind) (bool, error)
	Forget(ctx context.Context, appointmentID string) error
}

type ledgerKey struct {
	id   string
	kind notify.Kind
}

// MemoryLedger lives and dies with the process; a restart forgets what was
// already delivered.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[ledgerKey]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[ledgerKey]struct{})}
}

func (l *MemoryLedger) Mark(_ context.Context, id string, kind notify.Kind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey{id, kind}
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	l.seen[k] = struct{}{}
	return true, nil
}

// Forget drops an appointment once it has left the live set.
func (l *MemoryLedger) Forget(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.seen {
		if k.id == id {
			delete(l.seen, k)
		}
	}
	return nil
}

// RedisLedger shares the delivered set between instances and restarts.
type RedisLedger struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLedger(rdb *redis.Client, ttl time.Duration, prefix string) *RedisLedger {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	if prefix == "" {
		prefix = "queue:notified"
	}
	return &RedisLedger{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (l *RedisLedger) Mark(ctx context.Context, id string, kind notify.Kind) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(id, kind), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

// Forget is a no-op; keys expire on their own so a late replay stays
// suppressed.
func (l *RedisLedger) Forget(context.Context, string) error {
	return nil
}

func (l *RedisLedger) key(id string, kind notify.Kind) string {
	return l.prefix + ":" + string(kind) + ":" + id
}
