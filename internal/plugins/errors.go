package plugins

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes of the plugin pipeline.
// The typed errors below match them through errors.Is.
var (
	ErrValidation = errors.New("manifest validation failed")
	ErrFetch      = errors.New("fetch failed")
	ErrResolution = errors.New("repository url could not be resolved")
	ErrPipeline   = errors.New("plugin update failed")
	ErrRemoval    = errors.New("plugin removal failed")
)

// ValidationError is returned by Configuration.Validate. Field names the
// first failing field using dotted notation (e.g. "name", "plugman.title").
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FetchError reports a failed registry listing or manifest download.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// ResolutionError reports a repository URL that does not match the
// supported GitHub grammar, or a plugin with no resolvable artifact.
type ResolutionError struct {
	URL    string
	Reason string
}

func (e *ResolutionError) Error() string {
	if e.URL == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.URL)
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

// PipelineError wraps a failure of one stage of the download/install pipeline.
type PipelineError struct {
	PluginID string
	Stage    string
	Cause    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.PluginID, e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) Is(target error) bool {
	return target == ErrPipeline
}

// RemovalError reports a rejected filesystem removal during delete.
type RemovalError struct {
	PluginID string
	Dir      string
	Cause    error
}

func (e *RemovalError) Error() string {
	return fmt.Sprintf("failed to remove plugin %s: %v", e.PluginID, e.Cause)
}

func (e *RemovalError) Unwrap() error {
	return e.Cause
}

func (e *RemovalError) Is(target error) bool {
	return target == ErrRemoval
}
