package review

import "fmt"

// ServiceError represents a failed call to the review model.
type ServiceError struct {
	Report  string
	Model   string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("review service error (%s, model %s): %s: %v", e.Report, e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("review service error (%s, model %s): %s", e.Report, e.Model, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}
