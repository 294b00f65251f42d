package external

import (
	"log/slog"
	"net/http"
	"time"

	"eventdigest/internal/config"
)

// ---------------------------------------------------------------------------
// Client Registry
//
// Central factory that instantiates every upstream client from configuration
// with the resilience profile each one needs.
// ---------------------------------------------------------------------------

// Breaker names, also used as log attributes.
const (
	breakerResendFetch = "resend-fetch"
	breakerResendSend  = "resend-send"
	breakerEventFeed   = "event-feed"

	// fetchTripAfter opens the fetch breakers after this many consecutive
	// failures. Sends never trip: every recipient gets an attempt.
	fetchTripAfter = 5
	fetchOpenFor   = 30 * time.Second
)

// ClientRegistry holds all upstream client interfaces. It is the single point
// of access for the rest of the application to the contacts API, the email
// API and the events feed.
type ClientRegistry struct {
	Directory RecipientDirectory
	Registrar ContactRegistrar
	Mailer    Mailer
	Feed      EventFeed
}

// RegistryOption is a functional option for configuring a ClientRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	dryRun     bool
	transport  http.RoundTripper
	clientOpts []BaseClientOption
}

// WithDryRun replaces the mailer with a LogMailer. Contacts and the feed are
// still read from the real services.
func WithDryRun() RegistryOption {
	return func(rc *registryConfig) {
		rc.dryRun = true
	}
}

// WithTransport routes every client through rt, e.g. an instrumented or test
// transport.
func WithTransport(rt http.RoundTripper) RegistryOption {
	return func(rc *registryConfig) {
		rc.transport = rt
	}
}

// WithClientOptions applies opts to every BaseClient the registry builds.
func WithClientOptions(opts ...BaseClientOption) RegistryOption {
	return func(rc *registryConfig) {
		rc.clientOpts = append(rc.clientOpts, opts...)
	}
}

// NewClientRegistry initializes all upstream clients.
//
// Contacts listing and the feed share the fetch profile: UPSTREAM_TIMEOUT,
// UPSTREAM_MAX_RETRIES and a breaker that opens after repeated failures.
// Sends use RESEND_SEND_TIMEOUT, never retry and never trip.
func NewClientRegistry(cfg *config.Config, userAgent string, logger *slog.Logger, opts ...RegistryOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	fetchPolicy := NoRetry()
	if cfg.Upstream.MaxRetries > 0 {
		fetchPolicy = BackoffRetry(cfg.Upstream.MaxRetries)
	}
	fetchBreaker := func(name string) BreakerConfig {
		return BreakerConfig{Name: name, TripAfter: fetchTripAfter, OpenFor: fetchOpenFor}
	}

	resendFetch := NewBaseClient(
		rc.httpClient(cfg.Upstream.Timeout),
		fetchBreaker(breakerResendFetch),
		userAgent,
		rc.baseOpts(WithRetryPolicy(fetchPolicy))...,
	)
	resendSend := NewBaseClient(
		rc.httpClient(cfg.Resend.SendTimeout),
		BreakerConfig{Name: breakerResendSend},
		userAgent,
		rc.baseOpts()...,
	)
	feedBase := NewBaseClient(
		rc.httpClient(cfg.Upstream.Timeout),
		fetchBreaker(breakerEventFeed),
		userAgent,
		rc.baseOpts(WithRetryPolicy(fetchPolicy))...,
	)

	resend := NewResendClient(resendFetch, resendSend, ResendClientConfig{
		APIKey:    cfg.Resend.APIKey.Unmask(),
		BaseURL:   cfg.Resend.BaseURL,
		SegmentID: cfg.Resend.SegmentID,
		Logger:    logger.With("client", "resend"),
	})

	reg := &ClientRegistry{
		Directory: resend,
		Registrar: resend,
		Mailer:    resend,
		Feed:      NewFeedClient(feedBase, logger.With("client", "feed")),
	}
	if rc.dryRun {
		logger.Info("initializing mailer in DRY-RUN mode")
		reg.Mailer = NewLogMailer(logger.With("mode", "dry-run"))
	}

	logger.Debug("upstream clients initialized",
		"resend_base_url", cfg.Resend.BaseURL,
		"fetch_retries", fetchPolicy.MaxRetries,
		"dry_run", rc.dryRun,
	)
	return reg
}

func (rc *registryConfig) httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: rc.transport}
}

func (rc *registryConfig) baseOpts(opts ...BaseClientOption) []BaseClientOption {
	return append(opts, rc.clientOpts...)
}
