package pipeline

import (
	"errors"
	"strings"
)

// ValidationError aggregates pipeline graph issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "pipeline validation failed"
	}
	return "pipeline validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

// Merge appends the issues of err when it is a ValidationError, or its message otherwise.
func (e *ValidationError) Merge(err error) {
	if err == nil {
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		e.Issues = append(e.Issues, ve.Issues...)
		return
	}
	e.Add(err.Error())
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// IsValidationError reports whether err carries pipeline validation issues.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
