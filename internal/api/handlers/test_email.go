package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"eventdigest/internal/core"
	"eventdigest/internal/dispatch"
	"eventdigest/internal/external"
	"eventdigest/internal/types"
)

// Fixed content of the provider smoke-test message.
const (
	testEmailSubject = "Hello World"
	testEmailHTML    = "<p>Congrats on sending your <strong>first email</strong>!</p>"
)

// TestEmailResponse is the body of a successful test send.
type TestEmailResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
	To string `json:"to"`
}

// TestEmailConfig holds the sender and fallback recipient for test sends.
type TestEmailConfig struct {
	From          string
	DefaultTo     string
	TriggerSecret types.SecretString
}

// TestEmailHandler sends a fixed message to verify provider credentials.
type TestEmailHandler struct {
	mailer external.Mailer
	cfg    TestEmailConfig
	logger *slog.Logger
}

// NewTestEmailHandler creates a TestEmailHandler. A nil mailer means the
// provider is not configured and every request is answered with 503.
func NewTestEmailHandler(mailer external.Mailer, cfg TestEmailConfig, l *slog.Logger) *TestEmailHandler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.From == "" {
		cfg.From = dispatch.DefaultFromAddress
	}
	return &TestEmailHandler{mailer: mailer, cfg: cfg, logger: l}
}

// RegisterRoutes mounts GET /send-test-email behind the trigger secret.
func (h *TestEmailHandler) RegisterRoutes(r chi.Router) {
	r.With(core.RequireTriggerSecret(h.cfg.TriggerSecret, h.logger)).
		Get("/send-test-email", h.HandleSendTestEmail)
}

// HandleSendTestEmail sends the smoke-test message to ?to= or the configured
// default recipient. Provider refusals are reported as 400.
func (h *TestEmailHandler) HandleSendTestEmail(w http.ResponseWriter, r *http.Request) {
	if h.mailer == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeConfigMissingSetting, "RESEND_API_KEY not set", nil))
		return
	}

	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if to == "" {
		to = h.cfg.DefaultTo
	}
	if to == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"Provide ?to= or set RESEND_TEST_TO",
			nil,
		))
		return
	}

	id, err := h.mailer.SendEmail(r.Context(), external.Message{
		From:    h.cfg.From,
		To:      to,
		Subject: testEmailSubject,
		HTML:    testEmailHTML,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "test email failed",
			"recipient", dispatch.RedactEmail(to),
			"error", err,
		)
		msg := "failed to send test email"
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeEmailRejected, msg, err))
		return
	}

	h.logger.InfoContext(r.Context(), "test email sent", "recipient", dispatch.RedactEmail(to), "id", id)
	core.JSON(w, r, http.StatusOK, TestEmailResponse{OK: true, ID: id, To: to})
}
