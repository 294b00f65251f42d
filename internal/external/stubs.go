package external

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// LogMailer implements Mailer by logging each message instead of sending it.
// Used by dry runs to exercise a full digest without delivering mail.
type LogMailer struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendEmail logs msg with the recipient's domain only and returns a
// synthetic message ID.
func (m *LogMailer) SendEmail(ctx context.Context, msg Message) (string, error) {
	id := "dry_" + uuid.NewString()
	m.sent.Add(1)
	m.logger.InfoContext(ctx, "dry-run: email not sent",
		"id", id,
		"to_domain", recipientDomain(msg.To),
		"subject", msg.Subject,
		"html_bytes", len(msg.HTML),
	)
	return id, nil
}

// Sent returns how many messages were logged.
func (m *LogMailer) Sent() int64 {
	return m.sent.Load()
}

func recipientDomain(addr string) string {
	if _, domain, ok := strings.Cut(addr, "@"); ok {
		return domain
	}
	return ""
}

var _ Mailer = (*LogMailer)(nil)
