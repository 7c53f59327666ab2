package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/inbox"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeReader serves its messages once, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type applier struct {
	mu   sync.Mutex
	got  []booking.PaymentSignal
	errs []error
}

func (a *applier) ApplyPayment(_ context.Context, sig booking.PaymentSignal) (model.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, sig)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return model.Appointment{}, err
	}
	return model.Appointment{ID: sig.AppointmentID}, nil
}

func (a *applier) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func message(offset int64, eventID string, sig booking.PaymentSignal) kafka.Message {
	body, _ := json.Marshal(sig)
	return kafka.Message{
		Topic:   TopicPaymentStatus,
		Offset:  offset,
		Value:   body,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(eventID)}},
	}
}

func run(t *testing.T, r *fakeReader, in inbox.Inbox, h Handler, wantCommits int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(r, quiet(), in, 500*time.Millisecond, h)
	c.pause = 10 * time.Millisecond
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	require.Eventually(t, func() bool { return len(r.commits()) == wantCommits }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestConsumer_DuplicateEventsApplyOnce(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "a1", Status: booking.PaymentApproved, Provider: "stripe"}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig), message(2, "evt-1", sig)}}
	app := &applier{}

	run(t, r, inbox.NewMemoryInbox(), PaymentHandler(app, quiet()), 2)
	assert.Equal(t, 1, app.calls())
	assert.Equal(t, []int64{1, 2}, r.commits())
	assert.True(t, r.closed)
}

func TestConsumer_RetriesTransientFailures(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "a1", Status: booking.PaymentApproved}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig)}}
	app := &applier{errs: []error{storage.ErrUnavailable}}

	run(t, r, inbox.NewMemoryInbox(), PaymentHandler(app, quiet()), 1)
	assert.Equal(t, 2, app.calls())
}

func TestConsumer_PermanentFailureKeepsInboxEntry(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "gone", Status: booking.PaymentApproved}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig)}}
	app := &applier{errs: []error{model.ErrNotFound}}
	in := inbox.NewMemoryInbox()

	run(t, r, in, PaymentHandler(app, quiet()), 1)
	assert.Equal(t, 1, app.calls())
	ok, err := in.Record(context.Background(), "evt-1", TopicPaymentStatus)
	require.NoError(t, err)
	assert.False(t, ok)
}

// A message that outlasts the retry budget stays uncommitted and is applied
// once the store recovers.
func TestConsumer_TransientOutageDelaysCommit(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "a1", Status: booking.PaymentApproved}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig)}}
	app := &applier{}
	var (
		mu          sync.Mutex
		attempts    int
		commitsSeen []int
	)
	h := func(ctx context.Context, msg kafka.Message) error {
		mu.Lock()
		attempts++
		commitsSeen = append(commitsSeen, len(r.commits()))
		failing := attempts <= 12
		mu.Unlock()
		if failing {
			return storage.ErrUnavailable
		}
		return PaymentHandler(app, quiet())(ctx, msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(r, quiet(), inbox.NewMemoryInbox(), 100*time.Millisecond, h)
	c.pause = 10 * time.Millisecond
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 10*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, app.calls())
	assert.Equal(t, []int64{1}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 13, attempts)
	for _, n := range commitsSeen {
		assert.Zero(t, n, "committed before the payment was applied")
	}
}

type flakyInbox struct {
	*inbox.MemoryInbox
	mu       sync.Mutex
	failures int
}

func (f *flakyInbox) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return false, errors.New("inbox down")
	}
	f.mu.Unlock()
	return f.MemoryInbox.Record(ctx, eventID, eventType)
}

func TestConsumer_InboxFailureIsRetried(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "a1", Status: booking.PaymentApproved}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig)}}
	app := &applier{}
	in := &flakyInbox{MemoryInbox: inbox.NewMemoryInbox(), failures: 3}

	run(t, r, in, PaymentHandler(app, quiet()), 1)
	assert.Equal(t, 1, app.calls())
	assert.Equal(t, []int64{1}, r.commits())
}

// Stopping mid-outage leaves the offset uncommitted and releases the inbox
// entry so the redelivered message is applied after a restart.
func TestConsumer_ShutdownReleasesUncommitted(t *testing.T) {
	sig := booking.PaymentSignal{AppointmentID: "a1", Status: booking.PaymentApproved}
	r := &fakeReader{msgs: []kafka.Message{message(1, "evt-1", sig)}}
	var calls atomic.Int32
	h := func(context.Context, kafka.Message) error {
		calls.Add(1)
		return storage.ErrUnavailable
	}
	in := inbox.NewMemoryInbox()

	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(r, quiet(), in, 50*time.Millisecond, h)
	c.pause = 10 * time.Millisecond
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, r.commits())
	ok, err := in.Record(context.Background(), "evt-1", TopicPaymentStatus)
	require.NoError(t, err)
	assert.True(t, ok, "a released event can be replayed")
}

func TestPaymentHandler_SkipsMalformed(t *testing.T) {
	app := &applier{}
	h := PaymentHandler(app, quiet())
	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte("{")}))
	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte(`{"status":"approved"}`)}))
	assert.Equal(t, 0, app.calls())

	err := PaymentHandler(&applier{errs: []error{errors.New("boom")}}, quiet())(
		context.Background(), message(1, "e", booking.PaymentSignal{AppointmentID: "x", Status: booking.PaymentApproved}))
	require.Error(t, err)
}
