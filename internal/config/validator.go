package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Superego-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field. Valid values:
// "stderr", "memory", "file://<absolute path>", "sqlite://<absolute path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	switch output {
	case "stderr", "memory":
		return true
	}

	for _, scheme := range []string{"file://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			path := strings.TrimPrefix(output, scheme)
			return path != "" && filepath.IsAbs(path)
		}
	}

	return false
}

// Validate checks the configuration using struct tags and custom rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for one
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "audit_output":
		return fmt.Sprintf("%s must be 'stderr', 'memory', 'file://<absolute path>' or 'sqlite://<absolute path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
