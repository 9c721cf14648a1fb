package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"leadninja/internal/types"
)

// Validator wraps go-playground/validator with the domain-specific rules used
// by request payload validation.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// source_action restricts a field to the known usage-event sources.
	_ = v.RegisterValidation("source_action", func(fl validator.FieldLevel) bool {
		return types.ValidSourceAction(types.SourceAction(fl.Field().String()))
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request payload against its struct tags. On
// failure it returns a *types.AppError carrying a per-field details map; the
// code is validation_missing_required_field when a required field is absent
// and validation_invalid_json otherwise.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	details := make(map[string]any, len(validationErrs))
	code := types.ErrCodeValidationInvalidJSON
	for _, fe := range validationErrs {
		field := strings.ToLower(fe.Field())
		details[field] = describeFieldError(fe)
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", nil, details)
}

// describeFieldError renders a single field failure as a client-safe message.
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "source_action":
		return "must be one of: scrape, import, manual"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
