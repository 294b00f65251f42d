package core

import (
	"context"
	"sync"
	"time"
)

// MockRateLimitStore implements RateLimitStore for tests. It returns Result
// and Err unless IncrementAndCheckFunc is set, and records every call.
//
// To simulate an exhausted window:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: false, ResetAt: time.Now().Add(30 * time.Minute)},
//	}
type MockRateLimitStore struct {
	Result                RateLimitResult
	Err                   error
	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of a single IncrementAndCheck call.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// IncrementAndCheck implements RateLimitStore.
func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// CallCount returns the number of recorded calls.
func (m *MockRateLimitStore) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockHealthProbe implements HealthProbe. Check blocks for Delay (or until
// the context ends) and then returns Err.
type MockHealthProbe struct {
	ProbeName string
	Err       error
	Delay     time.Duration
}

// Name implements HealthProbe.
func (m *MockHealthProbe) Name() string { return m.ProbeName }

// Check implements HealthProbe.
func (m *MockHealthProbe) Check(ctx context.Context) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Err
}

// MockMetricsCollector implements MetricsCollector and records every request.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

// MetricsCall records one RecordRequest invocation.
type MetricsCall struct {
	Method, Route, Status string
	Duration              time.Duration
}

// RecordRequest implements MetricsCollector.
func (m *MockMetricsCollector) RecordRequest(method, route, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{method, route, status, duration})
}

// Snapshot returns a copy of the recorded calls.
func (m *MockMetricsCollector) Snapshot() []MetricsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsCall(nil), m.Calls...)
}

var (
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ HealthProbe      = (*MockHealthProbe)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
