package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventdigest/internal/digest"
	"eventdigest/internal/external"
	"eventdigest/internal/telemetry"
	"eventdigest/internal/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeDirectory struct {
	recipients []string
	err        error
	calls      atomic.Int32
	gotSegment string
	// block, when set, is waited on before returning.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeDirectory) ListRecipients(ctx context.Context, segmentID string) ([]string, error) {
	f.calls.Add(1)
	f.gotSegment = segmentID
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.recipients, f.err
}

type fakeFeed struct {
	days    types.EventsByDay
	err     error
	calls   int
	gotSite string
}

func (f *fakeFeed) FetchEvents(_ context.Context, siteURL string) (types.EventsByDay, error) {
	f.calls++
	f.gotSite = siteURL
	return f.days, f.err
}

type sendCall struct {
	msg         external.Message
	ctxErr      error
	hasDeadline bool
	deadlineIn  time.Duration
}

type fakeMailer struct {
	mu     sync.Mutex
	fail   map[string]error
	calls  []sendCall
	onSend func(n int)
	// hang makes every send wait for its context to end.
	hang bool
}

func (f *fakeMailer) SendEmail(ctx context.Context, msg external.Message) (string, error) {
	f.mu.Lock()
	deadline, ok := ctx.Deadline()
	f.calls = append(f.calls, sendCall{
		msg:         msg,
		ctxErr:      ctx.Err(),
		hasDeadline: ok,
		deadlineIn:  time.Until(deadline),
	})
	n := len(f.calls)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(n)
	}
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.fail[msg.To]; err != nil {
		return "", err
	}
	return "msg-" + msg.To, nil
}

type fakeLocker struct {
	held       bool
	err        error
	acquiredID string
	owner      string
	ttl        time.Duration
	released   []string
}

func (f *fakeLocker) Acquire(_ context.Context, lockID, ownerID string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.acquiredID, f.owner, f.ttl = lockID, ownerID, ttl
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, lockID, ownerID string) error {
	f.released = append(f.released, lockID+"|"+ownerID)
	return nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	runs        []telemetry.RunOutcome
	sends       []bool
	sendCtxErrs []error
}

func (f *fakeRecorder) RecordRun(_ context.Context, o telemetry.RunOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, o)
}

func (f *fakeRecorder) RecordSend(ctx context.Context, ok bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, ok)
	f.sendCtxErrs = append(f.sendCtxErrs, ctx.Err())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var lima = time.FixedZone("Lima", -5*60*60)

// tuesdayMorning is 2024-03-12 10:00 in Lima; its week runs 03-10..03-16.
var tuesdayMorning = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

type harness struct {
	dir      *fakeDirectory
	feed     *fakeFeed
	mailer   *fakeMailer
	recorder *fakeRecorder
	locker   *fakeLocker
}

func validSettings() Settings {
	return Settings{
		APIKey:    "re_test",
		SiteURL:   "https://eventis.example.com",
		SegmentID: "seg_1",
	}
}

func newHarness(recipients ...string) *harness {
	return &harness{
		dir:      &fakeDirectory{recipients: recipients},
		feed:     &fakeFeed{days: types.EventsByDay{}},
		mailer:   &fakeMailer{fail: map[string]error{}},
		recorder: &fakeRecorder{},
	}
}

func (h *harness) dispatcher(t *testing.T, settings Settings) *Dispatcher {
	t.Helper()
	renderer, err := digest.NewRenderer(digest.RendererConfig{})
	if err != nil {
		t.Fatalf("NewRenderer() error: %v", err)
	}
	deps := Deps{
		Directory: h.dir,
		Feed:      h.feed,
		Mailer:    h.mailer,
		Renderer:  renderer,
		Recorder:  h.recorder,
		Clock:     func() time.Time { return tuesdayMorning },
		Location:  lima,
	}
	if h.locker != nil {
		deps.Locker = h.locker
	}
	return New(settings, deps)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRunPartialFailureContinues(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com", "c@example.com")
	h.mailer.fail["b@example.com"] = types.NewAppError(types.ErrCodeEmailRejected, "rejected", nil)

	result, err := h.dispatcher(t, validSettings()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result != (types.DigestResult{Sent: 2, Total: 3}) {
		t.Errorf("result = %+v, want {Sent:2 Total:3}", result)
	}
	if len(h.mailer.calls) != 3 {
		t.Fatalf("send attempts = %d, want 3", len(h.mailer.calls))
	}
	order := []string{"a@example.com", "b@example.com", "c@example.com"}
	for i, call := range h.mailer.calls {
		if call.msg.To != order[i] {
			t.Errorf("send %d to %q, want %q", i, call.msg.To, order[i])
		}
		if call.msg.HTML != h.mailer.calls[0].msg.HTML || call.msg.Subject != h.mailer.calls[0].msg.Subject {
			t.Errorf("send %d differs in content from the first send", i)
		}
		if call.msg.From != DefaultFromAddress {
			t.Errorf("from = %q, want default sender", call.msg.From)
		}
	}
	if h.feed.calls != 1 {
		t.Errorf("feed fetched %d times, want once per run", h.feed.calls)
	}
	if h.dir.gotSegment != "seg_1" {
		t.Errorf("segment = %q, want seg_1", h.dir.gotSegment)
	}
}

func TestRunNoRecipientsSkipsFeedAndSends(t *testing.T) {
	h := newHarness()

	result, err := h.dispatcher(t, validSettings()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result != (types.DigestResult{}) {
		t.Errorf("result = %+v, want zero", result)
	}
	if h.feed.calls != 0 {
		t.Errorf("feed fetched %d times, want 0", h.feed.calls)
	}
	if len(h.mailer.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(h.mailer.calls))
	}
	if len(h.recorder.runs) != 1 || h.recorder.runs[0].Status != telemetry.RunEmpty {
		t.Errorf("recorded runs = %+v, want one empty run", h.recorder.runs)
	}
}

func TestRunRendersCurrentWeek(t *testing.T) {
	h := newHarness("ana@example.com")
	h.feed.days = types.EventsByDay{
		"2024-03-12": {{Title: types.Some("Concierto")}},
		"2024-03-19": {{Title: types.Some("Semana siguiente")}},
	}

	result, err := h.dispatcher(t, validSettings()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result != (types.DigestResult{Sent: 1, Total: 1}) {
		t.Errorf("result = %+v", result)
	}

	msg := h.mailer.calls[0].msg
	header := strings.Index(msg.HTML, "Mar 12 Marzo")
	title := strings.Index(msg.HTML, "Concierto")
	if header < 0 || title < header {
		t.Errorf("expected day header before title (header=%d title=%d)", header, title)
	}
	if strings.Contains(msg.HTML, "Semana siguiente") {
		t.Error("events outside the week must not be sent")
	}
	wantSubject := "Resumen semanal — Eventos en Lima (Dom 10 Marzo – Sáb 16 Marzo)"
	if msg.Subject != wantSubject {
		t.Errorf("subject = %q, want %q", msg.Subject, wantSubject)
	}
	if h.feed.gotSite != "https://eventis.example.com" {
		t.Errorf("feed site = %q", h.feed.gotSite)
	}
}

func TestRunMissingSettingsMakesNoCalls(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantMsg string
	}{
		{"api key", func(s *Settings) { s.APIKey = "" }, "RESEND_API_KEY not set"},
		{"site url", func(s *Settings) { s.SiteURL = "" }, "SITE_URL not set"},
		{"both reports api key first", func(s *Settings) { s.APIKey = ""; s.SiteURL = "" }, "RESEND_API_KEY not set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness("a@example.com")
			settings := validSettings()
			tt.mutate(&settings)

			_, err := h.dispatcher(t, settings).Run(context.Background())

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != types.ErrCodeConfigMissingSetting || appErr.Message != tt.wantMsg {
				t.Errorf("got (%q, %q), want (%q, %q)", appErr.Code, appErr.Message, types.ErrCodeConfigMissingSetting, tt.wantMsg)
			}
			if h.dir.calls.Load() != 0 || h.feed.calls != 0 || len(h.mailer.calls) != 0 {
				t.Error("no upstream calls expected when unconfigured")
			}
		})
	}
}

func TestRunDirectoryFailureAborts(t *testing.T) {
	h := newHarness()
	h.dir.err = types.NewAppError(types.ErrCodeUpstreamContacts, "Failed to list contacts", nil)

	_, err := h.dispatcher(t, validSettings()).Run(context.Background())

	if code := types.CodeOf(err); code != types.ErrCodeUpstreamContacts {
		t.Errorf("code = %q, want %q", code, types.ErrCodeUpstreamContacts)
	}
	if h.feed.calls != 0 || len(h.mailer.calls) != 0 {
		t.Error("directory failure must stop the run before the feed and sends")
	}
	if len(h.recorder.runs) != 1 || h.recorder.runs[0].Status != telemetry.RunFailed {
		t.Errorf("recorded runs = %+v, want one failed run", h.recorder.runs)
	}
}

func TestRunFeedFailureAborts(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com")
	h.feed.err = types.NewAppError(types.ErrCodeUpstreamFeed, "Failed to fetch events", nil)

	result, err := h.dispatcher(t, validSettings()).Run(context.Background())

	if code := types.CodeOf(err); code != types.ErrCodeUpstreamFeed {
		t.Errorf("code = %q, want %q", code, types.ErrCodeUpstreamFeed)
	}
	if len(h.mailer.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(h.mailer.calls))
	}
	if result != (types.DigestResult{}) {
		t.Errorf("result = %+v, want zero on abort", result)
	}
}

func TestRunDrainsAfterCallerCancels(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com", "c@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mailer.onSend = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	result, err := h.dispatcher(t, validSettings()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Sent != 3 {
		t.Errorf("sent = %d, want 3", result.Sent)
	}
	for i, call := range h.mailer.calls {
		if call.ctxErr != nil {
			t.Errorf("send %d saw cancelled context: %v", i, call.ctxErr)
		}
	}
}

func TestRunEachSendHasOwnTimeout(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com")
	settings := validSettings()
	settings.SendTimeout = 2 * time.Second

	if _, err := h.dispatcher(t, settings).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for i, call := range h.mailer.calls {
		if !call.hasDeadline {
			t.Errorf("send %d has no deadline", i)
			continue
		}
		if call.deadlineIn <= 0 || call.deadlineIn > 2*time.Second {
			t.Errorf("send %d deadline in %v, want within (0, 2s]", i, call.deadlineIn)
		}
	}
}

func TestRunRecordsOutcome(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com")
	h.mailer.fail["a@example.com"] = errors.New("boom")

	if _, err := h.dispatcher(t, validSettings()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(h.recorder.runs) != 1 {
		t.Fatalf("runs recorded = %d, want 1", len(h.recorder.runs))
	}
	run := h.recorder.runs[0]
	if run.Status != telemetry.RunCompleted || run.Result != (types.DigestResult{Sent: 1, Total: 2}) {
		t.Errorf("run outcome = %+v", run)
	}
	if len(h.recorder.sends) != 2 || h.recorder.sends[0] || !h.recorder.sends[1] {
		t.Errorf("send outcomes = %v, want [false true]", h.recorder.sends)
	}
}

// ---------------------------------------------------------------------------
// Overlapping runs
// ---------------------------------------------------------------------------

func TestRunLockHeldReturnsConflict(t *testing.T) {
	h := newHarness("a@example.com")
	h.locker = &fakeLocker{held: true}

	_, err := h.dispatcher(t, validSettings()).Run(context.Background())

	if code := types.CodeOf(err); code != types.ErrCodeConflictRunInProgress {
		t.Errorf("code = %q, want %q", code, types.ErrCodeConflictRunInProgress)
	}
	if h.dir.calls.Load() != 0 {
		t.Error("no work expected while another run holds the lock")
	}
	if h.recorder.runs[0].Status != telemetry.RunConflict {
		t.Errorf("status = %q, want conflict", h.recorder.runs[0].Status)
	}
}

func TestRunAcquiresAndReleasesWeekLock(t *testing.T) {
	h := newHarness("a@example.com")
	h.locker = &fakeLocker{}
	settings := validSettings()
	settings.LockTTL = 7 * time.Minute

	if _, err := h.dispatcher(t, settings).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if h.locker.acquiredID != "digest:2024-03-10" {
		t.Errorf("lock id = %q, want digest:2024-03-10", h.locker.acquiredID)
	}
	if h.locker.ttl != 7*time.Minute {
		t.Errorf("ttl = %v, want 7m", h.locker.ttl)
	}
	if len(h.locker.released) != 1 || h.locker.released[0] != "digest:2024-03-10|"+h.locker.owner {
		t.Errorf("released = %v, want the acquired lock by its owner", h.locker.released)
	}
}

func TestRunLockErrorAborts(t *testing.T) {
	h := newHarness("a@example.com")
	h.locker = &fakeLocker{err: errors.New("redis down")}

	if _, err := h.dispatcher(t, validSettings()).Run(context.Background()); err == nil {
		t.Fatal("expected error when the lock backend fails")
	}
	if h.dir.calls.Load() != 0 {
		t.Error("no work expected when the lock cannot be checked")
	}
}

func TestRunConcurrentTriggersShareExecution(t *testing.T) {
	h := newHarness("a@example.com")
	h.dir.block = make(chan struct{})
	h.dir.entered = make(chan struct{})
	d := h.dispatcher(t, validSettings())

	var wg sync.WaitGroup
	results := make([]types.DigestResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = d.Run(context.Background())
	}()
	<-h.dir.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = d.Run(context.Background())
	}()
	// Give the second trigger time to join the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(h.dir.block)
	wg.Wait()

	if h.dir.calls.Load() != 1 {
		t.Errorf("directory calls = %d, want 1", h.dir.calls.Load())
	}
	if len(h.mailer.calls) != 1 {
		t.Errorf("sends = %d, want 1", len(h.mailer.calls))
	}
	if results[0] != results[1] {
		t.Errorf("shared results differ: %+v vs %+v", results[0], results[1])
	}
}

func TestRunSharedExecutionSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness("a@example.com")
	h.dir.block = make(chan struct{})
	h.dir.entered = make(chan struct{})
	d := h.dispatcher(t, validSettings())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	var wg sync.WaitGroup
	results := make([]types.DigestResult, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = d.Run(firstCtx)
	}()
	<-h.dir.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = d.Run(context.Background())
	}()
	time.Sleep(100 * time.Millisecond)

	// The trigger that started the execution goes away mid-directory call.
	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	close(h.dir.block)
	wg.Wait()

	want := types.DigestResult{Sent: 1, Total: 1}
	if errs[1] != nil {
		t.Fatalf("second Run() error: %v", errs[1])
	}
	if results[1] != want {
		t.Errorf("second result = %+v, want %+v", results[1], want)
	}
	if h.dir.calls.Load() != 1 {
		t.Errorf("directory calls = %d, want 1", h.dir.calls.Load())
	}
	if len(h.mailer.calls) != 1 {
		t.Errorf("sends = %d, want 1", len(h.mailer.calls))
	}
}

func TestRunRecordsTimedOutSendOnLiveContext(t *testing.T) {
	h := newHarness("a@example.com", "b@example.com")
	h.mailer.hang = true
	settings := validSettings()
	settings.SendTimeout = 20 * time.Millisecond

	result, err := h.dispatcher(t, settings).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Sent != 0 || result.Total != 2 {
		t.Errorf("result = %+v, want 0 of 2", result)
	}

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if len(h.recorder.sends) != 2 {
		t.Fatalf("recorded sends = %d, want 2", len(h.recorder.sends))
	}
	for i, ctxErr := range h.recorder.sendCtxErrs {
		if ctxErr != nil {
			t.Errorf("send metric %d recorded on a finished context: %v", i, ctxErr)
		}
	}
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

func TestPreviewDoesNotTouchDirectoryOrMailer(t *testing.T) {
	h := newHarness("a@example.com")
	h.feed.days = types.EventsByDay{
		"2024-03-12": {{Title: types.Some("Concierto")}, {Title: types.Some("Teatro")}},
	}
	settings := validSettings()
	settings.APIKey = ""

	p, err := h.dispatcher(t, settings).Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if p.Window.Start() != "2024-03-10" || p.Window.End() != "2024-03-16" {
		t.Errorf("window = %v", p.Window)
	}
	if p.Events != 2 || !strings.Contains(p.HTML, "Concierto") {
		t.Errorf("preview = %d events, html contains Concierto=%v", p.Events, strings.Contains(p.HTML, "Concierto"))
	}
	if !strings.HasPrefix(p.Subject, "Resumen semanal") {
		t.Errorf("subject = %q", p.Subject)
	}
	if h.dir.calls.Load() != 0 || len(h.mailer.calls) != 0 {
		t.Error("preview must not list recipients or send")
	}
}

func TestPreviewRequiresSiteURL(t *testing.T) {
	h := newHarness()
	settings := validSettings()
	settings.SiteURL = ""

	_, err := h.dispatcher(t, settings).Preview(context.Background())
	if code := types.CodeOf(err); code != types.ErrCodeConfigMissingSetting {
		t.Errorf("code = %q, want %q", code, types.ErrCodeConfigMissingSetting)
	}
	if h.feed.calls != 0 {
		t.Error("feed must not be fetched when unconfigured")
	}
}

// ---------------------------------------------------------------------------
// RedactEmail
// ---------------------------------------------------------------------------

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"john@gmail.com": "j***@gmail.com",
		"a@example.com":  "a***@example.com",
		"@example.com":   "***@example.com",
		"not-an-email":   "***",
		"":               "",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
