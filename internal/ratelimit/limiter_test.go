package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Hit(ctx context.Context, key string, p Policy, now time.Time) (Decision, error) {
	args := m.Called(ctx, key, p, now)
	return args.Get(0).(Decision), args.Error(1)
}

var paymentPolicy = Policy{Window: 60 * time.Second, MaxRequests: 5, BlockDuration: 5 * time.Minute}

func newTestLimiter(clock *fakeClock) (*Limiter, *MemoryStore) {
	store := NewMemoryStore()
	l := New(store, map[string]Policy{"payment_attempt": paymentPolicy}, WithClock(clock.Now))
	return l, store
}

func TestLimiter_SixthRequestInWindowIsThrottled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Admit(ctx, "client-1", "payment_attempt")
		assert.True(t, d.Allowed, "request %d", i+1)
		clock.Advance(time.Second)
	}

	d := l.Admit(ctx, "client-1", "payment_attempt")
	assert.False(t, d.Allowed)
	assert.Equal(t, 300, d.RetryAfterSeconds)

	clock.Advance(100 * time.Second)
	d = l.Admit(ctx, "client-1", "payment_attempt")
	assert.False(t, d.Allowed)
	assert.Equal(t, 200, d.RetryAfterSeconds)
}

func TestLimiter_AdmitsAgainAfterBlockWithFreshWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Admit(ctx, "client-1", "payment_attempt")
	}
	clock.Advance(5 * time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed, "request %d after cooldown", i+1)
	}
	assert.False(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
}

func TestLimiter_WindowRollsOverWithoutBlock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
	}
	clock.Advance(61 * time.Second)
	assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Admit(ctx, "client-1", "payment_attempt")
	}
	assert.False(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
	assert.True(t, l.Admit(ctx, "client-2", "payment_attempt").Allowed)
}

func TestLimiter_UnknownActionFailsOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, store := newTestLimiter(clock)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Admit(context.Background(), "client-1", "something_new").Allowed)
	}
	assert.Equal(t, 0, store.Len())
}

func TestLimiter_StoreErrorFailsOpen(t *testing.T) {
	store := &MockStore{}
	l := New(store, map[string]Policy{"payment_attempt": paymentPolicy})
	store.On("Hit", mock.Anything, "rl:payment_attempt:client-1", paymentPolicy, mock.Anything).
		Return(Decision{}, errors.New("redis down")).Once()

	d := l.Admit(context.Background(), "client-1", "payment_attempt")

	assert.True(t, d.Allowed)
	store.AssertExpectations(t)
}

func TestLimiter_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestLimiter(clock)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit(context.Background(), "client-1", "payment_attempt").Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed)
}

func TestMemoryStore_PurgeDropsOnlyExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, store := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Admit(ctx, "blocked", "payment_attempt")
	}
	l.Admit(ctx, "idle", "payment_attempt")
	assert.Equal(t, 2, store.Len())

	clock.Advance(61 * time.Second)
	assert.Equal(t, 1, store.Purge(clock.Now()), "idle window is stale, blocked one is still cooling down")
	assert.Equal(t, 1, store.Len())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, store.Purge(clock.Now()))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_RunStopsWithContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
