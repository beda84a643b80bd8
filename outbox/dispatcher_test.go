package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktaras/ad-marketplace-backend-sub000/test/fakes"
)

type failure struct {
	lastErr string
	retryAt *time.Time
}

type memStore struct {
	mu        sync.Mutex
	pending   []Message
	topics    []string
	lease     time.Duration
	completed []int64
	failed    map[int64]failure
}

func newMemStore(msgs ...Message) *memStore {
	return &memStore{pending: msgs, failed: make(map[int64]failure)}
}

func (s *memStore) Claim(ctx context.Context, tx pgx.Tx, topics []string, limit int, lease time.Duration) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = topics
	s.lease = lease
	n := limit
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, nil
}

func (s *memStore) Complete(ctx context.Context, tx pgx.Tx, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return nil
}

func (s *memStore) Fail(ctx context.Context, tx pgx.Tx, id int64, lastErr string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = failure{lastErr: lastErr, retryAt: retryAt}
	return nil
}

func statusMsg(id int64, attempts int, payload string) Message {
	return Message{ID: id, Topic: TopicDealStatusChanged, Payload: []byte(payload), Attempts: attempts}
}

func newTestDispatcher(store Store, opts Options) (*Dispatcher, *fakes.Pool, time.Time) {
	pool := &fakes.Pool{}
	d := NewDispatcher(pool, store, (&fakes.LogSink{}).Logger(), opts)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, pool, now
}

func TestRunOnceDispatchesDealStatusChanges(t *testing.T) {
	store := newMemStore(
		statusMsg(1, 0, `{"deal_id":"d-1","previous_status":"VERIFIED","next_status":"COMPLETED"}`),
		statusMsg(2, 0, `{"deal_id":"d-2"}`),
	)
	d, pool, _ := newTestDispatcher(store, Options{})

	var synced []string
	d.Register(TopicDealStatusChanged, DealStatusHandler(func(ctx context.Context, dealID string) error {
		synced = append(synced, dealID)
		return nil
	}))

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"d-1", "d-2"}, synced)
	assert.Equal(t, []int64{1, 2}, store.completed)
	assert.Equal(t, []string{TopicDealStatusChanged}, store.topics)

	// One claim transaction plus one per outcome.
	begun, committed, _ := pool.Counts()
	assert.Equal(t, 3, begun)
	assert.Equal(t, 3, committed)
	assert.Equal(t, time.Minute, store.lease)
}

func TestRunOnceRunsHandlersOutsideTransactions(t *testing.T) {
	store := newMemStore(
		statusMsg(1, 0, `{"deal_id":"d-1"}`),
		statusMsg(2, 0, `{"deal_id":"d-2"}`),
	)
	d, pool, _ := newTestDispatcher(store, Options{Lease: 30 * time.Second})

	var open []int
	d.Register(TopicDealStatusChanged, DealStatusHandler(func(ctx context.Context, dealID string) error {
		begun, committed, rolled := pool.Counts()
		open = append(open, begun-committed-rolled)
		return nil
	}))

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, open)
	assert.Equal(t, 30*time.Second, store.lease)
	assert.Equal(t, []int64{1, 2}, store.completed)
}

func TestRunOnceSchedulesRetryWithBackoff(t *testing.T) {
	store := newMemStore(statusMsg(7, 2, `{"deal_id":"d-7"}`))
	d, _, now := newTestDispatcher(store, Options{MaxAttempts: 5})
	d.Register(TopicDealStatusChanged, DealStatusHandler(func(ctx context.Context, dealID string) error {
		return errors.New("telegram down")
	}))

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	f, ok := store.failed[7]
	require.True(t, ok)
	require.NotNil(t, f.retryAt)
	assert.Equal(t, now.Add(9*time.Second), *f.retryAt)
	assert.Equal(t, "telegram down", f.lastErr)
	assert.Empty(t, store.completed)
}

func TestRunOnceDeadLettersExhaustedAndPermanentFailures(t *testing.T) {
	store := newMemStore(
		statusMsg(1, 4, `{"deal_id":"d-1"}`),
		statusMsg(2, 0, `not json`),
		statusMsg(3, 0, `{}`),
	)
	d, _, _ := newTestDispatcher(store, Options{MaxAttempts: 5})
	d.Register(TopicDealStatusChanged, DealStatusHandler(func(ctx context.Context, dealID string) error {
		return errors.New("still failing")
	}))

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, store.failed, 3)
	for id, f := range store.failed {
		assert.Nil(t, f.retryAt, "message %d should be dead", id)
	}
}

func TestPermanentWrapsBoth(t *testing.T) {
	base := errors.New("deal gone")
	err := Permanent(base)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Permanent(nil))
}

func TestRunRequiresHandlers(t *testing.T) {
	d, _, _ := newTestDispatcher(newMemStore(), Options{})
	require.Error(t, d.Run(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newMemStore(statusMsg(1, 0, `{"deal_id":"d-1"}`))
	d, _, _ := newTestDispatcher(store, Options{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.Register(TopicDealStatusChanged, DealStatusHandler(func(context.Context, string) error {
		close(done)
		return nil
	}))

	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not dispatched")
	}
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
