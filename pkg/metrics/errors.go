package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is matched by ConfigurationError
	ErrNotImplemented = errors.New("metric policy capability not implemented")

	// ErrCollaborator is matched by CollaboratorError
	ErrCollaborator = errors.New("artifact request failed")
)

// ConfigurationError reports a policy capability that was invoked without being provided
type ConfigurationError struct {
	Policy string
	Method string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s.%s: %s", e.Policy, e.Method, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %v", e.Policy, e.Method, ErrNotImplemented)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotImplemented
}

// CollaboratorError wraps a failure from an artifact provider
type CollaboratorError struct {
	Artifact string
	Err      error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("requesting %s: %v", e.Artifact, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaborator
}
