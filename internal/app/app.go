// Package app assembles the digest pipeline from configuration. The HTTP
// server, the Lambda worker and the CLI all build the same App and differ
// only in their recorder and entry point.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"eventdigest/internal/config"
	"eventdigest/internal/digest"
	"eventdigest/internal/dispatch"
	"eventdigest/internal/external"
	"eventdigest/internal/lock"
	"eventdigest/internal/telemetry"
)

// Options tune how New assembles the pipeline.
type Options struct {
	// Recorder receives run and send metrics. Defaults to a no-op.
	Recorder telemetry.Recorder
	// WorkerID prefixes lock owner IDs.
	WorkerID string
	// DryRun logs messages instead of sending them.
	DryRun bool
	// Clock overrides time.Now, e.g. to preview another week.
	Clock func() time.Time
	// Registry overrides the upstream clients built from configuration.
	Registry []external.RegistryOption
}

// App is a fully wired digest pipeline.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Clients    *external.ClientRegistry
	Dispatcher *dispatch.Dispatcher

	// Redis is nil when REDIS_URL is unset.
	Redis *redis.Client
}

// New builds an App. It fails only on invalid configuration; missing
// credentials surface later as per-run configuration errors.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := cfg.Digest.Location()
	if err != nil {
		return nil, fmt.Errorf("app: loading timezone %q: %w", cfg.Digest.Timezone, err)
	}

	renderer, err := digest.NewRenderer(digest.RendererConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	registryOpts := append([]external.RegistryOption(nil), opts.Registry...)
	if opts.DryRun {
		registryOpts = append(registryOpts, external.WithDryRun())
	}
	clients := external.NewClientRegistry(cfg, UserAgent(cfg.Build), logger, registryOpts...)

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Clients: clients,
	}

	var locker lock.Locker
	if cfg.Lock.RedisURL.IsSet() {
		client, err := lock.NewRedisClient(cfg.Lock.RedisURL.Unmask())
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Redis = client
		locker = lock.NewRedisLocker(client)
		logger.Info("distributed run lock enabled", "ttl", cfg.Lock.TTL.String())
	}

	a.Dispatcher = dispatch.New(dispatch.Settings{
		APIKey:      cfg.Resend.APIKey,
		SiteURL:     cfg.Digest.ResolvedSiteURL(),
		SegmentID:   cfg.Resend.SegmentID,
		FromAddress: cfg.Resend.FromAddress,
		SendTimeout: cfg.Resend.SendTimeout,
		LockTTL:     cfg.Lock.TTL,
	}, dispatch.Deps{
		Directory: clients.Directory,
		Feed:      clients.Feed,
		Mailer:    clients.Mailer,
		Renderer:  renderer,
		Locker:    locker,
		Recorder:  opts.Recorder,
		Logger:    logger.With("component", "dispatcher"),
		Clock:     opts.Clock,
		Location:  loc,
		WorkerID:  opts.WorkerID,
	})

	return a, nil
}

// Close releases the Redis connection pool, if any.
func (a *App) Close() error {
	if a.Redis == nil {
		return nil
	}
	if err := a.Redis.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

// UserAgent identifies this build to upstream services.
func UserAgent(build config.BuildInfo) string {
	v := build.Version
	if v == "" {
		v = "dev"
	}
	return "eventdigest/" + v
}
