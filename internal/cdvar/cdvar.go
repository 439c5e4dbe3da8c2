// Package cdvar writes pipeline logging commands that set variables in the
// surrounding CI/CD job.
package cdvar

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format is the logging command a job agent scans stdout for.
const Format = "##vso[task.setvariable variable=%s]%s\n"

// ValidName reports whether name can be carried by a logging command.
func ValidName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("variable name is required")
	}
	if strings.ContainsAny(name, "]\r\n;") {
		return fmt.Errorf("variable name %q contains a reserved character", name)
	}
	return nil
}

// SetVariable writes exactly one logging command line. The value is emitted
// unchanged; anything that would break the line is rejected instead.
func SetVariable(w io.Writer, name, value string) error {
	if w == nil {
		return errors.New("output writer is required")
	}
	if err := ValidName(name); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("variable %s: value is empty", name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("variable %s: value contains a line break", name)
	}
	_, err := fmt.Fprintf(w, Format, name, value)
	return err
}
