package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidationError lists every configuration field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError describes one invalid configuration value.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid configuration"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validate checks struct tags and the cross-field rules tags cannot express.
// It returns *ValidationError when anything is invalid.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{
				Field:   trimRoot(fe.Namespace()),
				Tag:     fe.Tag(),
				Param:   fe.Param(),
				Message: describe(fe),
			})
		}
	}

	seen := make(map[string]bool)
	for _, ep := range c.Adaptive.Endpoints() {
		if ep.Name == "" {
			continue
		}
		if seen[ep.Name] {
			verr.Fields = append(verr.Fields, FieldError{
				Field:   "Adaptive.Endpoints",
				Tag:     "unique",
				Message: fmt.Sprintf("duplicate endpoint name %q", ep.Name),
			})
		}
		seen[ep.Name] = true
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be less than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "startswith":
		return "must start with " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
