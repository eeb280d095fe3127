package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrExecutionExists   = errors.New("saga execution already exists")
	ErrExecutionNotFound = errors.New("saga execution not found")
	ErrStaleExecution    = errors.New("saga execution was modified concurrently")
)

// ExecutionStatus is the lifecycle of a saga execution
type ExecutionStatus string

const (
	ExecutionRunning            ExecutionStatus = "RUNNING"
	ExecutionCompensating       ExecutionStatus = "COMPENSATING"
	ExecutionCompleted          ExecutionStatus = "COMPLETED"
	ExecutionAborted            ExecutionStatus = "ABORTED"
	ExecutionCompensationFailed ExecutionStatus = "COMPENSATION_FAILED"
)

// IsTerminal reports whether recovery should leave the execution alone
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionAborted, ExecutionCompensationFailed:
		return true
	}
	return false
}

// StepStatus is the state of a single step inside an execution
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepSucceeded StepStatus = "SUCCEEDED"
	// StepFailed is a definite failure: the remote side rejected the call
	StepFailed StepStatus = "FAILED"
	// StepUncertain is a step that gave up on timeouts or transient errors; its
	// side effect may have landed, so it is compensated like a succeeded step
	StepUncertain          StepStatus = "UNCERTAIN"
	StepCompensated        StepStatus = "COMPENSATED"
	StepCompensationFailed StepStatus = "COMPENSATION_FAILED"
)

// StepResult is what a step hands to later steps and to its own compensation.
// Handle identifies the remote side effect (reservation id, intent id).
type StepResult struct {
	Handle string          `json:"handle,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewStepResult encodes data next to the handle
func NewStepResult(handle string, data any) (StepResult, error) {
	if data == nil {
		return StepResult{Handle: handle}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "encode step result")
	}
	return StepResult{Handle: handle, Data: raw}, nil
}

// Decode unpacks the result data into v
func (r StepResult) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("step result has no data")
	}
	return errors.Wrap(json.Unmarshal(r.Data, v), "decode step result")
}

// Results are the outputs of the steps that already succeeded, keyed by step name
type Results map[string]StepResult

// Decode unpacks the result of the named step
func (r Results) Decode(step string, v any) error {
	res, ok := r[step]
	if !ok {
		return errors.Errorf("no result recorded for step %s", step)
	}
	return errors.Wrapf(res.Decode(v), "step %s", step)
}

// Step is one unit of forward work and its undo.
// Execute must be idempotent for a given idempotency key. Compensate must be safe
// to call when Execute never took effect. For an UNCERTAIN step results carries
// no entry of its own, so Compensate has to find the remote effect through the
// idempotency key. A nil Compensate is a no-op.
type Step[T any] struct {
	Name           string
	IdempotencyKey func(input T) string
	Execute        func(ctx context.Context, input T, results Results) (StepResult, error)
	Compensate     func(ctx context.Context, input T, results Results) error
}

// Definition is a fixed, ordered list of steps
type Definition[T any] struct {
	Name  string
	Steps []Step[T]
}

func (d Definition[T]) index(name string) int {
	for i, step := range d.Steps {
		if step.Name == name {
			return i
		}
	}
	return -1
}

// StepRecord is the persisted state of a step
type StepRecord struct {
	Name           string      `json:"name"`
	Status         StepStatus  `json:"status"`
	AttemptCount   int         `json:"attempt_count"`
	IdempotencyKey string      `json:"idempotency_key"`
	LastError      string      `json:"last_error,omitempty"`
	Result         *StepResult `json:"result,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Execution is the write-ahead record of one saga run
type Execution struct {
	ID            string          `json:"id"`
	SagaName      string          `json:"saga_name"`
	Status        ExecutionStatus `json:"status"`
	FailedStep    string          `json:"failed_step,omitempty"`
	FailureCode   string          `json:"failure_code,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Input         json.RawMessage `json:"input"`
	Steps         []StepRecord    `json:"steps"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Step returns the record for the named step
func (e *Execution) Step(name string) *StepRecord {
	for i := range e.Steps {
		if e.Steps[i].Name == name {
			return &e.Steps[i]
		}
	}
	return nil
}

// Results collects the outputs of every step that has a recorded result
func (e *Execution) Results() Results {
	results := make(Results, len(e.Steps))
	for _, step := range e.Steps {
		if step.Result != nil {
			results[step.Name] = *step.Result
		}
	}
	return results
}

// Clone returns a deep copy so stored executions are not shared with callers
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.Input = append(json.RawMessage(nil), e.Input...)
	clone.Steps = make([]StepRecord, len(e.Steps))
	for i, step := range e.Steps {
		clone.Steps[i] = step
		if step.Result != nil {
			res := *step.Result
			res.Data = append(json.RawMessage(nil), step.Result.Data...)
			clone.Steps[i].Result = &res
		}
	}
	return &clone
}

// Log is the durable execution log. Save must fail with ErrStaleExecution when
// the stored version differs from the one the caller loaded.
type Log interface {
	Create(ctx context.Context, execution *Execution) error
	Save(ctx context.Context, execution *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	ListIncomplete(ctx context.Context, limit int) ([]*Execution, error)
}
