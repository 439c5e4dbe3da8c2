package controlplane

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("not found")

type ResourceKind string

const (
	KindWorkspace     ResourceKind = "workspace"
	KindDataset       ResourceKind = "dataset"
	KindEnvironment   ResourceKind = "environment"
	KindComputeTarget ResourceKind = "compute target"
)

// NotFoundError reports a named resource absent from the workspace.
type NotFoundError struct {
	Kind      ResourceKind
	Name      string
	Workspace string
	RequestID string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found in workspace %q", e.Kind, e.Name, e.Workspace)
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	return msg
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RemoteError is any other failed exchange with the control plane: transport
// failures, authentication, quota, throttling, or malformed responses.
type RemoteError struct {
	Method    string
	Path      string
	Status    int
	Code      string
	RequestID string
	Body      string
	Err       error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "control plane %s %s", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status=%d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " error=%s", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" && e.Code == "" {
		fmt.Fprintf(&b, " body=%s", e.Body)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is of a kind a caller could retry.
// The publisher itself never retries.
func (e *RemoteError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
