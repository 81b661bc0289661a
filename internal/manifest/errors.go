package manifest

import "fmt"

// ParseError represents a manifest that cannot be read as a label/URL table.
type ParseError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("manifest error: %s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("manifest error: %s", msg)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
