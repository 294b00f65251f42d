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

// User-facing messages shown by the site's subscribe form.
const (
	invalidEmailMessage      = "Indica un correo válido."
	subscribeDisabledMessage = "Servicio de suscripción no configurado."
	subscribeInternalMessage = "Error interno. Intenta más tarde."
)

// SubscribeRequest is the body of POST /subscribe.
type SubscribeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SubscribeHandler adds site visitors to the digest audience.
type SubscribeHandler struct {
	registrar external.ContactRegistrar
	limiter   func(http.Handler) http.Handler
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscribeHandler creates a SubscribeHandler. A nil registrar means the
// provider is not configured and every request is answered with 503. A nil
// limiter disables rate limiting.
func NewSubscribeHandler(
	registrar external.ContactRegistrar,
	limiter func(http.Handler) http.Handler,
	v *core.Validator,
	l *slog.Logger,
) *SubscribeHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &SubscribeHandler{registrar: registrar, limiter: limiter, validator: v, logger: l}
}

// RegisterRoutes mounts POST /subscribe.
func (h *SubscribeHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter)
		}
		r.Post("/subscribe", h.HandleSubscribe)
	})
}

// HandleSubscribe normalizes and validates the address, then registers it as
// a contact. Provider 4xx answers surface as 400 with the provider's message,
// 5xx answers as 503.
func (h *SubscribeHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.registrar == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeConfigMissingSetting, subscribeDisabledMessage, nil))
		return
	}

	var req SubscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		// The form treats any unreadable body as a missing address.
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, invalidEmailMessage, err))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.validator.ValidateStruct(req); err != nil {
		code := types.CodeOf(err)
		if code == types.ErrCodeInternalUnexpected {
			core.Error(w, r, err)
			return
		}
		core.Error(w, r, types.NewAppError(code, invalidEmailMessage, err))
		return
	}

	if err := h.registrar.CreateContact(r.Context(), req.Email); err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			h.logger.ErrorContext(r.Context(), "subscribe failed", "error", err)
			core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, subscribeInternalMessage, err))
			return
		}
		h.logger.WarnContext(r.Context(), "subscribe rejected",
			"code", appErr.Code,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "subscribed", "recipient", dispatch.RedactEmail(req.Email))
	core.JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
