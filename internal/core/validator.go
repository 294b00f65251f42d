package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"eventdigest/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// 400 AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates s against its `validate` tags. The first failing
// field selects the error code: email rules map to validation_invalid_email,
// required to validation_missing_required_field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fe := fieldErrs[0]
	code := types.ErrCodeValidationMissingField
	if fe.Tag() == "email" {
		code = types.ErrCodeValidationInvalidEmail
	}
	return types.NewAppError(code, "invalid field "+fe.Field(), err).
		WithDetails(map[string]any{"field": fe.Field(), "rule": fe.Tag()})
}
