// Package dispatch runs the weekly digest: it resolves subscribers, fetches
// and renders the current week's events once, and sends the result to each
// subscriber in turn.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"eventdigest/internal/calendar"
	"eventdigest/internal/digest"
	"eventdigest/internal/external"
	"eventdigest/internal/lock"
	"eventdigest/internal/telemetry"
	"eventdigest/internal/types"
)

// Default timings.
const (
	DefaultSendTimeout = 10 * time.Second
	DefaultLockTTL     = 15 * time.Minute
	DefaultFromAddress = "onboarding@resend.dev"

	lockReleaseTimeout = 5 * time.Second
	recordTimeout      = 2 * time.Second
)

// Settings are the values a run needs from configuration. The setting tag
// names the environment variable reported when a value is missing.
type Settings struct {
	APIKey      types.SecretString `setting:"RESEND_API_KEY" validate:"required"`
	SiteURL     string             `setting:"SITE_URL" validate:"required"`
	SegmentID   string             `setting:"RESEND_SEGMENT_ID"`
	FromAddress string             `setting:"RESEND_FROM_EMAIL"`
	SendTimeout time.Duration      `setting:"RESEND_SEND_TIMEOUT"`
	LockTTL     time.Duration      `setting:"RUN_LOCK_TTL"`
}

// Deps are the collaborators of a Dispatcher. Directory, Feed, Mailer and
// Renderer are required. A nil Locker disables the cross-process run lock.
type Deps struct {
	Directory external.RecipientDirectory
	Feed      external.EventFeed
	Mailer    external.Mailer
	Renderer  *digest.Renderer
	Locker    lock.Locker
	Recorder  telemetry.Recorder
	Logger    *slog.Logger

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time
	// Location is the calendar timezone. Defaults to UTC.
	Location *time.Location
	// WorkerID prefixes lock owner IDs so operators can tell holders apart.
	WorkerID string
}

// Preview is a rendered digest that has not been sent.
type Preview struct {
	Window  calendar.Window `json:"window"`
	Subject string          `json:"subject"`
	HTML    string          `json:"html"`
	Events  int             `json:"events"`
}

// Dispatcher executes digest runs. It is safe for concurrent use; concurrent
// runs for the same week share a single execution.
type Dispatcher struct {
	settings Settings
	deps     Deps
	validate *validator.Validate
	group    singleflight.Group
}

// New creates a Dispatcher, filling unset optional settings and deps with
// their defaults.
func New(settings Settings, deps Deps) *Dispatcher {
	if settings.FromAddress == "" {
		settings.FromAddress = DefaultFromAddress
	}
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = DefaultSendTimeout
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = DefaultLockTTL
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NoopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("setting")
	})

	return &Dispatcher{settings: settings, deps: deps, validate: v}
}

// Window returns the calendar week containing the current instant.
func (d *Dispatcher) Window() calendar.Window {
	return calendar.WeekOf(d.deps.Clock(), d.deps.Location)
}

// Run executes one digest run and returns how many recipients were resolved
// and how many sends the provider accepted.
//
// Missing settings fail before any network call. A directory or feed failure
// aborts the run before anything is sent. Once sending starts, individual
// failures are logged and counted and the loop always reaches the last
// recipient.
//
// Concurrent calls for the same week join one execution. That execution is
// detached from every caller's cancellation and bounded by the lock TTL
// instead, so one trigger going away cannot fail the others.
func (d *Dispatcher) Run(ctx context.Context) (types.DigestResult, error) {
	started := d.deps.Clock()
	logger := d.deps.Logger

	if err := d.checkSettings(); err != nil {
		logger.ErrorContext(ctx, "digest run not configured", "error", err)
		d.recordRun(ctx, started, types.DigestResult{}, err)
		return types.DigestResult{}, err
	}

	window := calendar.WeekOf(started, d.deps.Location)
	v, err, shared := d.group.Do(window.Start(), func() (any, error) {
		// The flight serves every joined trigger, so it must not inherit the
		// cancellation of whichever caller happened to start it.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.settings.LockTTL)
		defer cancel()
		result, err := d.runExclusive(runCtx, window)
		d.recordRun(runCtx, started, result, err)
		return result, err
	})
	if shared {
		logger.InfoContext(ctx, "digest run shared with a concurrent trigger", "week_start", window.Start())
	}
	result, _ := v.(types.DigestResult)
	return result, err
}

// Preview renders the current week's digest without contacting the
// directory or sending anything. Only the site URL must be configured.
func (d *Dispatcher) Preview(ctx context.Context) (Preview, error) {
	if err := d.checkFields("SiteURL"); err != nil {
		return Preview{}, err
	}

	window := d.Window()
	html, events, err := d.render(ctx, window)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Window:  window,
		Subject: d.deps.Renderer.Subject(window),
		HTML:    html,
		Events:  events,
	}, nil
}

// runExclusive holds the distributed week lock, when configured, around the
// run itself.
func (d *Dispatcher) runExclusive(ctx context.Context, window calendar.Window) (types.DigestResult, error) {
	if d.deps.Locker == nil {
		return d.execute(ctx, window)
	}

	lockID := "digest:" + window.Start()
	owner := uuid.NewString()
	if d.deps.WorkerID != "" {
		owner = d.deps.WorkerID + ":" + owner
	}

	acquired, err := d.deps.Locker.Acquire(ctx, lockID, owner, d.settings.LockTTL)
	if err != nil {
		return types.DigestResult{}, fmt.Errorf("acquiring run lock %s: %w", lockID, err)
	}
	if !acquired {
		d.deps.Logger.InfoContext(ctx, "digest run lock held elsewhere", "lock_id", lockID)
		return types.DigestResult{}, types.NewAppError(
			types.ErrCodeConflictRunInProgress,
			"a digest run for this week is already in progress",
			nil,
		)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := d.deps.Locker.Release(releaseCtx, lockID, owner); err != nil {
			d.deps.Logger.ErrorContext(ctx, "failed to release run lock", "lock_id", lockID, "error", err)
		}
	}()

	return d.execute(ctx, window)
}

func (d *Dispatcher) execute(ctx context.Context, window calendar.Window) (types.DigestResult, error) {
	logger := d.deps.Logger.With("week_start", window.Start(), "week_end", window.End())

	recipients, err := d.deps.Directory.ListRecipients(ctx, d.settings.SegmentID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list recipients", "error", err)
		return types.DigestResult{}, fmt.Errorf("resolving recipients: %w", err)
	}

	total := len(recipients)
	if total == 0 {
		logger.InfoContext(ctx, "no subscribers, skipping digest")
		return types.DigestResult{}, nil
	}

	html, events, err := d.render(ctx, window)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build digest", "error", err)
		return types.DigestResult{}, err
	}

	msg := external.Message{
		From:    d.settings.FromAddress,
		Subject: d.deps.Renderer.Subject(window),
		HTML:    html,
	}
	logger.InfoContext(ctx, "sending digest", "recipients", total, "events", events)

	// Sending runs to completion regardless of caller cancellation.
	sendCtx := context.WithoutCancel(ctx)
	sent := 0
	for _, to := range recipients {
		msg.To = to
		if d.sendOne(sendCtx, msg) {
			sent++
		}
	}

	result := types.DigestResult{Sent: sent, Total: total}
	logger.InfoContext(ctx, "digest run complete",
		"sent", result.Sent,
		"failed", result.Failed(),
		"total", result.Total,
	)
	return result, nil
}

// render fetches the feed and renders the window. It returns the HTML and
// the number of events in the window.
func (d *Dispatcher) render(ctx context.Context, window calendar.Window) (string, int, error) {
	all, err := d.deps.Feed.FetchEvents(ctx, d.settings.SiteURL)
	if err != nil {
		return "", 0, fmt.Errorf("fetching events: %w", err)
	}

	days := digest.ForWindow(all, window)
	events := 0
	for _, evs := range days {
		events += len(evs)
	}

	html, err := d.deps.Renderer.Render(days, window, d.settings.SiteURL)
	if err != nil {
		return "", 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render digest", err)
	}
	return html, events, nil
}

// sendOne delivers msg under its own timeout and reports whether the
// provider accepted it.
func (d *Dispatcher) sendOne(ctx context.Context, msg external.Message) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.settings.SendTimeout)
	defer cancel()

	start := time.Now()
	id, err := d.deps.Mailer.SendEmail(sendCtx, msg)
	elapsed := time.Since(start)

	// A send that used up its deadline must still be counted.
	recCtx, recCancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	d.deps.Recorder.RecordSend(recCtx, err == nil, elapsed)
	recCancel()

	if err != nil {
		d.deps.Logger.ErrorContext(ctx, "digest send failed",
			"recipient", RedactEmail(msg.To),
			"code", string(types.CodeOf(err)),
			"error", err,
		)
		return false
	}
	d.deps.Logger.DebugContext(ctx, "digest sent",
		"recipient", RedactEmail(msg.To),
		"message_id", id,
	)
	return true
}

// checkSettings validates every required setting.
func (d *Dispatcher) checkSettings() error {
	return d.settingsError(d.validate.Struct(d.settings))
}

// checkFields validates only the named settings fields.
func (d *Dispatcher) checkFields(fields ...string) error {
	return d.settingsError(d.validate.StructPartial(d.settings, fields...))
}

// settingsError converts the first validation failure into a configuration
// error naming the missing environment variable.
func (d *Dispatcher) settingsError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return types.NewAppError(
			types.ErrCodeConfigMissingSetting,
			verrs[0].Field()+" not set",
			nil,
		)
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid dispatcher settings", err)
}

func (d *Dispatcher) recordRun(ctx context.Context, started time.Time, result types.DigestResult, err error) {
	outcome := telemetry.RunOutcome{
		Result:   result,
		Duration: d.deps.Clock().Sub(started),
	}
	switch {
	case err == nil && result.Total == 0:
		outcome.Status = telemetry.RunEmpty
	case err == nil:
		outcome.Status = telemetry.RunCompleted
	case types.CodeOf(err) == types.ErrCodeConflictRunInProgress:
		outcome.Status = telemetry.RunConflict
		outcome.ErrorCode = types.ErrCodeConflictRunInProgress
	default:
		outcome.Status = telemetry.RunFailed
		outcome.ErrorCode = types.CodeOf(err)
	}
	d.deps.Recorder.RecordRun(context.WithoutCancel(ctx), outcome)
}
