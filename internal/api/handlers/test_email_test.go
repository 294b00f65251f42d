package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdigest/internal/external"
	"eventdigest/internal/types"
)

type mockMailer struct {
	id   string
	err  error
	sent []external.Message
}

func (m *mockMailer) SendEmail(_ context.Context, msg external.Message) (string, error) {
	m.sent = append(m.sent, msg)
	return m.id, m.err
}

func getTestEmail(t *testing.T, h *TestEmailHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodGet, target, nil))
}

func TestSendTestEmail_QueryRecipient(t *testing.T) {
	mailer := &mockMailer{id: "email_123"}
	h := NewTestEmailHandler(mailer, TestEmailConfig{DefaultTo: "ops@example.com"}, testLogger())

	w := getTestEmail(t, h, "/api/send-test-email?to=ana@example.com")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"id":"email_123","to":"ana@example.com"}`, w.Body.String())
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, external.Message{
		From:    "onboarding@resend.dev",
		To:      "ana@example.com",
		Subject: "Hello World",
		HTML:    "<p>Congrats on sending your <strong>first email</strong>!</p>",
	}, mailer.sent[0])
}

func TestSendTestEmail_DefaultRecipient(t *testing.T) {
	mailer := &mockMailer{id: "email_9"}
	h := NewTestEmailHandler(mailer, TestEmailConfig{From: "Eventos <hola@eventis.pe>", DefaultTo: "ops@example.com"}, testLogger())

	w := getTestEmail(t, h, "/api/send-test-email")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@example.com", decodeMap(t, w)["to"])
	assert.Equal(t, "Eventos <hola@eventis.pe>", mailer.sent[0].From)
}

func TestSendTestEmail_NoRecipient(t *testing.T) {
	mailer := &mockMailer{}
	h := NewTestEmailHandler(mailer, TestEmailConfig{}, testLogger())

	w := getTestEmail(t, h, "/api/send-test-email")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mailer.sent)
}

func TestSendTestEmail_NotConfigured(t *testing.T) {
	h := NewTestEmailHandler(nil, TestEmailConfig{DefaultTo: "ops@example.com"}, testLogger())

	w := getTestEmail(t, h, "/api/send-test-email")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "config_missing_setting", decodeMap(t, w)["code"])
}

func TestSendTestEmail_ProviderError(t *testing.T) {
	for name, err := range map[string]error{
		"rejected":    types.NewAppError(types.ErrCodeEmailRejected, "Invalid `to` field", nil),
		"unavailable": types.NewAppError(types.ErrCodeUpstreamEmailProvider, "Failed to send email", nil),
	} {
		t.Run(name, func(t *testing.T) {
			h := NewTestEmailHandler(&mockMailer{err: err}, TestEmailConfig{DefaultTo: "ops@example.com"}, testLogger())

			w := getTestEmail(t, h, "/api/send-test-email")

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, err.(*types.AppError).Message, decodeMap(t, w)["error"])
		})
	}
}

func TestSendTestEmail_RequiresSecret(t *testing.T) {
	mailer := &mockMailer{}
	h := NewTestEmailHandler(mailer, TestEmailConfig{DefaultTo: "ops@example.com", TriggerSecret: "s3cret"}, testLogger())

	w := getTestEmail(t, h, "/api/send-test-email")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mailer.sent)
}
