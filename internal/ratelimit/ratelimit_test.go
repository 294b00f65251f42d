package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMemoryStore_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.now
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.IncrementAndCheck(ctx, "subscribe:1.2.3.4", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, clock.t.Add(time.Hour), res.ResetAt)
	}

	res, err := s.IncrementAndCheck(ctx, "subscribe:1.2.3.4", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	other, _ := s.IncrementAndCheck(ctx, "subscribe:5.6.7.8", 3, time.Hour)
	assert.True(t, other.Allowed, "keys are independent")

	clock.t = clock.t.Add(time.Hour)
	res, _ = s.IncrementAndCheck(ctx, "subscribe:1.2.3.4", 3, time.Hour)
	assert.True(t, res.Allowed, "window resets")
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryStore_SweepsExpiredWindows(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.now
	ctx := context.Background()

	_, _ = s.IncrementAndCheck(ctx, "stale", 1, time.Minute)
	clock.t = clock.t.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		_, _ = s.IncrementAndCheck(ctx, "fresh", 1, time.Minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.windows["stale"]
	assert.False(t, found)
}

type fakeEval struct {
	reply interface{}
	err   error
	keys  []string
	args  []interface{}
}

func (f *fakeEval) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.keys, f.args = keys, args
	return redis.NewCmdResult(f.reply, f.err)
}

func TestRedisStore_IncrementAndCheck(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		reply     interface{}
		wantAllow bool
		wantLeft  int
		wantReset time.Time
	}{
		{"first hit", []interface{}{int64(1), int64(3600000)}, true, 9, now.Add(time.Hour)},
		{"at limit", []interface{}{int64(10), int64(60000)}, true, 0, now.Add(time.Minute)},
		{"over limit", []interface{}{int64(11), int64(60000)}, false, 0, now.Add(time.Minute)},
		{"lost expiry", []interface{}{int64(2), int64(-1)}, true, 8, now.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeEval{reply: tt.reply}
			s := &RedisStore{client: fake, now: func() time.Time { return now }}

			res, err := s.IncrementAndCheck(context.Background(), "subscribe:1.2.3.4", 10, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, res.Allowed)
			assert.Equal(t, tt.wantLeft, res.Remaining)
			assert.Equal(t, tt.wantReset, res.ResetAt)
			assert.Equal(t, []string{KeyPrefix + "subscribe:1.2.3.4"}, fake.keys)
			assert.Equal(t, []interface{}{int64(3600000)}, fake.args)
		})
	}
}

func TestRedisStore_Errors(t *testing.T) {
	s := &RedisStore{client: &fakeEval{err: errors.New("connection refused")}, now: time.Now}
	_, err := s.IncrementAndCheck(context.Background(), "k", 1, time.Minute)
	assert.ErrorContains(t, err, "connection refused")

	s = &RedisStore{client: &fakeEval{reply: "OK"}, now: time.Now}
	_, err = s.IncrementAndCheck(context.Background(), "k", 1, time.Minute)
	assert.ErrorContains(t, err, "unexpected reply")
}

// TestRedisStore_Integration runs against a real server when REDIS_TEST_URL
// is set.
func TestRedisStore_Integration(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	s := NewRedisStore(client)
	key := "integration:" + time.Now().Format(time.RFC3339Nano)

	first, err := s.IncrementAndCheck(context.Background(), key, 1, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := s.IncrementAndCheck(context.Background(), key, 1, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}
