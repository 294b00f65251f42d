package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient parses a redis:// or rediss:// URL into a client with
// bounded timeouts. The same client backs the run lock and the subscribe
// rate limiter.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return redis.NewClient(opts), nil
}

// Pinger is the subset of the go-redis client the probe uses.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Probe reports Redis reachability to the health endpoint.
type Probe struct {
	client Pinger
}

// NewProbe wraps a go-redis client as a health probe.
func NewProbe(client Pinger) *Probe {
	return &Probe{client: client}
}

// Name implements core.HealthProbe.
func (p *Probe) Name() string { return "redis" }

// Check implements core.HealthProbe.
func (p *Probe) Check(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
