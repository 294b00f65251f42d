// Package handlers contains the HTTP handlers for the event digest API.
//
// Each handler decodes and validates the request, delegates to the dispatcher
// or an upstream client, and encodes the response through core.JSON and
// core.Error.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventdigest/internal/core"
	"eventdigest/internal/dispatch"
	"eventdigest/internal/types"
)

// noSubscribersMessage accompanies a run that found nobody to email.
const noSubscribersMessage = "No subscribers"

// DigestRunner is the dispatcher surface the trigger endpoints use.
type DigestRunner interface {
	Run(ctx context.Context) (types.DigestResult, error)
	Preview(ctx context.Context) (dispatch.Preview, error)
}

// SendDigestResponse is the body of a successful trigger.
type SendDigestResponse struct {
	OK      bool   `json:"ok"`
	Sent    int    `json:"sent"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// DigestHandler serves the weekly digest trigger and its preview.
type DigestHandler struct {
	runner DigestRunner
	secret types.SecretString
	logger *slog.Logger
}

// NewDigestHandler creates a DigestHandler. An unset secret leaves the
// trigger open, matching deployments that rely on the scheduler's network.
func NewDigestHandler(runner DigestRunner, secret types.SecretString, l *slog.Logger) *DigestHandler {
	if l == nil {
		l = slog.Default()
	}
	return &DigestHandler{runner: runner, secret: secret, logger: l}
}

// RegisterRoutes mounts the trigger routes behind the trigger secret:
//   - GET /send-weekly-digest
//   - GET /digest/preview
func (h *DigestHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(core.RequireTriggerSecret(h.secret, h.logger))
		r.Get("/send-weekly-digest", h.HandleSendWeekly)
		r.Get("/digest/preview", h.HandlePreview)
	})
}

// HandleSendWeekly runs the digest for the current week and reports how many
// recipients the provider accepted.
func (h *DigestHandler) HandleSendWeekly(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "weekly digest failed",
			"code", types.CodeOf(err),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	resp := SendDigestResponse{OK: true, Sent: result.Sent, Total: result.Total}
	if result.Total == 0 {
		resp.Message = noSubscribersMessage
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// HandlePreview renders the current week's digest as HTML without sending.
func (h *DigestHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.runner.Preview(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("X-Digest-Subject", preview.Subject)
	core.HTML(w, http.StatusOK, preview.HTML)
}
