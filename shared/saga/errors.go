package saga

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrInterrupted means the caller's context ended mid-run. The execution stays
// non-terminal and is picked up by recovery.
var ErrInterrupted = errors.New("saga interrupted")

// FailureError is returned when a step failed and every prior step was compensated
type FailureError struct {
	ExecutionID string
	Step        string
	Cause       error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("saga %s failed at step %s: %v", e.ExecutionID, e.Step, e.Cause)
}

func (e *FailureError) Unwrap() error {
	return e.Cause
}

// StepFailure pairs a step with the error its compensation ended with
type StepFailure struct {
	Step string
	Err  error
}

// CompensationFailure is returned when at least one compensation could not be
// completed. The system is inconsistent until someone reconciles it by hand.
type CompensationFailure struct {
	ExecutionID string
	FailedStep  string
	Cause       error
	Failures    []StepFailure
}

func (e *CompensationFailure) Error() string {
	steps := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("saga %s: compensation failed after %s failed (%v): %s",
		e.ExecutionID, e.FailedStep, e.Cause, strings.Join(steps, "; "))
}

func (e *CompensationFailure) Unwrap() []error {
	errs := []error{e.Cause}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ErrorAttributes describe a remote failure to the classifier
type ErrorAttributes struct {
	Service    string
	Code       string
	StatusCode int
	Timeout    bool
}

type attributed interface {
	ErrorAttributes() ErrorAttributes
}

// AttributesOf extracts ErrorAttributes from anywhere in the error chain
func AttributesOf(err error) (ErrorAttributes, bool) {
	var a attributed
	if errors.As(err, &a) {
		return a.ErrorAttributes(), true
	}
	return ErrorAttributes{}, false
}
