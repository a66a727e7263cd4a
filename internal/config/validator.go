package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateServerNamesUnique(); err != nil {
		return err
	}
	if err := c.validateRateLimitRulesHaveBudget(); err != nil {
		return err
	}
	if !c.DevMode && len(c.Servers) == 0 {
		return errors.New("servers: at least one server is required (set dev_mode to run without servers)")
	}

	return nil
}

// validateServerNamesUnique ensures no two servers share a name.
func (c *Config) validateServerNamesUnique() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("servers: duplicate server name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// validateRateLimitRulesHaveBudget ensures every rate_limit rule carries a
// positive MaxCalls and WindowSeconds, since the struct tags alone permit a
// rate_limit rule with neither set (min=1 only fires when the field is
// present and non-zero to validate, not when both fields are globally
// required for one kind but not the other).
func (c *Config) validateRateLimitRulesHaveBudget() error {
	for i, r := range c.Rules {
		if r.Kind != "rate_limit" {
			continue
		}
		if r.MaxCalls <= 0 || r.WindowSeconds <= 0 {
			return fmt.Errorf("rules[%d]: rate_limit rule %q requires max_calls and window_seconds", i, r.Pattern)
		}
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
