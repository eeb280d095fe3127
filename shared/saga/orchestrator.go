package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/draftea/order-system/shared/telemetry"
)

// persistError marks failures of the log itself; they are never retried as step failures
type persistError struct {
	err error
}

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

type settings struct {
	retry       RetryPolicy
	classify    Classifier
	stepTimeout time.Duration
	now         func() time.Time
	failureCode func(error) string
}

// Option configures an Orchestrator
type Option func(*settings)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *settings) { s.retry = policy }
}

func WithClassifier(classify Classifier) Option {
	return func(s *settings) {
		if classify != nil {
			s.classify = classify
		}
	}
}

// WithStepTimeout bounds every single attempt of a step or compensation
func WithStepTimeout(timeout time.Duration) Option {
	return func(s *settings) { s.stepTimeout = timeout }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithFailureCode stores a short code for the failure cause on aborted executions
func WithFailureCode(code func(error) string) Option {
	return func(s *settings) { s.failureCode = code }
}

// Orchestrator drives a Definition through its steps, writing every transition to
// the Log before acting on it.
type Orchestrator[T any] struct {
	log    Log
	logger zerolog.Logger
	settings
}

func NewOrchestrator[T any](log Log, logger zerolog.Logger, opts ...Option) *Orchestrator[T] {
	s := settings{
		retry:       DefaultRetryPolicy(),
		classify:    DefaultClassifier,
		stepTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Orchestrator[T]{
		log:      log,
		logger:   logger.With().Str("component", "saga").Logger(),
		settings: s,
	}
}

// Start records a new execution and runs it to a terminal state.
//
// It returns a *FailureError when the saga was rolled back, a *CompensationFailure
// when the rollback itself failed and ErrInterrupted when ctx ended first.
func (o *Orchestrator[T]) Start(ctx context.Context, def Definition[T], id string, input T) (*Execution, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, errors.Wrap(err, "encode saga input")
	}

	now := o.now().UTC()
	execution := &Execution{
		ID:        id,
		SagaName:  def.Name,
		Status:    ExecutionRunning,
		Input:     raw,
		Steps:     make([]StepRecord, 0, len(def.Steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, step := range def.Steps {
		var key string
		if step.IdempotencyKey != nil {
			key = step.IdempotencyKey(input)
		}
		execution.Steps = append(execution.Steps, StepRecord{
			Name:           step.Name,
			Status:         StepPending,
			IdempotencyKey: key,
			UpdatedAt:      now,
		})
	}

	if err := o.log.Create(ctx, execution); err != nil {
		return nil, errors.Wrap(err, "create saga execution")
	}
	telemetry.RecordCounter(ctx, "saga_started_total", "Sagas started", 1, attribute.String("saga", def.Name))

	return o.run(ctx, def, execution, input)
}

// Resume continues a non-terminal execution loaded from the log. Steps that
// already succeeded are skipped; an interrupted step is executed again with its
// original idempotency key.
func (o *Orchestrator[T]) Resume(ctx context.Context, def Definition[T], execution *Execution) (*Execution, error) {
	if execution.Status.IsTerminal() {
		return execution, nil
	}
	if execution.SagaName != def.Name || len(execution.Steps) != len(def.Steps) {
		return execution, errors.Errorf("execution %s does not belong to saga %s", execution.ID, def.Name)
	}

	var input T
	if err := json.Unmarshal(execution.Input, &input); err != nil {
		return execution, errors.Wrapf(err, "decode input of execution %s", execution.ID)
	}
	telemetry.RecordCounter(ctx, "saga_resumed_total", "Sagas resumed by recovery", 1, attribute.String("saga", def.Name))

	return o.run(ctx, def, execution, input)
}

func (o *Orchestrator[T]) run(ctx context.Context, def Definition[T], execution *Execution, input T) (*Execution, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga."+def.Name)
	defer span.End()
	span.SetAttributes(attribute.String("saga.execution_id", execution.ID))

	logger := o.logger.With().Str("saga", def.Name).Str("execution_id", execution.ID).Logger()

	if execution.Status == ExecutionCompensating {
		failed := def.index(execution.FailedStep)
		if failed < 0 {
			failed = len(def.Steps)
		}
		logger.Info().Str("failed_step", execution.FailedStep).Msg("resuming compensation")
		return o.compensate(ctx, def, execution, input, failed, errors.New(execution.FailureReason), logger)
	}

	results := execution.Results()
	for i, step := range def.Steps {
		record := &execution.Steps[i]
		if record.Status == StepSucceeded {
			continue
		}

		result, err := o.execute(ctx, step, execution, record, input, results, logger)
		if err == nil {
			results[step.Name] = result
			continue
		}

		if ctx.Err() != nil {
			logger.Warn().Str("step", step.Name).Msg("saga interrupted, leaving it for recovery")
			return execution, errors.Wrapf(ErrInterrupted, "step %s: %v", step.Name, ctx.Err())
		}
		var perr *persistError
		if errors.As(err, &perr) {
			span.RecordError(err)
			return execution, errors.Wrap(perr.err, "persist saga execution")
		}
		span.SetStatus(codes.Error, err.Error())
		return o.abort(ctx, def, execution, input, i, err, logger)
	}

	execution.Status = ExecutionCompleted
	if err := o.persist(ctx, execution); err != nil {
		return execution, err
	}
	logger.Info().Msg("saga completed")
	telemetry.RecordCounter(ctx, "saga_finished_total", "Sagas that reached a terminal state", 1,
		attribute.String("saga", def.Name), attribute.String("status", string(ExecutionCompleted)))
	return execution, nil
}

func (o *Orchestrator[T]) execute(
	ctx context.Context,
	step Step[T],
	execution *Execution,
	record *StepRecord,
	input T,
	results Results,
	logger zerolog.Logger,
) (StepResult, error) {
	var result StepResult

	err := retry.Do(ctx, o.retry.backoff(), func(ctx context.Context) error {
		// write-ahead: the attempt is durable before the remote call is made
		record.AttemptCount++
		record.UpdatedAt = o.now().UTC()
		if err := o.persist(ctx, execution); err != nil {
			return &persistError{err: err}
		}

		stepCtx, span := telemetry.StartSpan(ctx, "saga.step."+step.Name)
		span.SetAttributes(
			attribute.Int("saga.attempt", record.AttemptCount),
			attribute.String("saga.idempotency_key", record.IdempotencyKey),
		)
		stepCtx, cancel := o.withTimeout(stepCtx)
		started := time.Now()
		res, err := step.Execute(stepCtx, input, results)
		cancel()
		telemetry.RecordHistogram(ctx, "saga_step_duration_seconds", "Duration of a saga step attempt",
			time.Since(started).Seconds(), attribute.String("step", step.Name))
		if err == nil {
			span.End()
			result = res
			return nil
		}
		span.RecordError(err)
		span.End()

		transient := ctx.Err() == nil && o.classify(err)
		record.LastError = err.Error()
		logger.Warn().Err(err).
			Str("step", step.Name).
			Int("attempt", record.AttemptCount).
			Bool("transient", transient).
			Msg("saga step attempt failed")
		telemetry.RecordCounter(ctx, "saga_step_failures_total", "Failed saga step attempts", 1,
			attribute.String("step", step.Name), attribute.Bool("transient", transient))

		if transient {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return StepResult{}, err
	}

	record.Status = StepSucceeded
	record.Result = &result
	record.LastError = ""
	record.UpdatedAt = o.now().UTC()
	if err := o.persist(ctx, execution); err != nil {
		return StepResult{}, &persistError{err: err}
	}
	logger.Debug().Str("step", step.Name).Str("handle", result.Handle).Msg("saga step succeeded")
	return result, nil
}

func (o *Orchestrator[T]) abort(
	ctx context.Context,
	def Definition[T],
	execution *Execution,
	input T,
	failed int,
	cause error,
	logger zerolog.Logger,
) (*Execution, error) {
	record := &execution.Steps[failed]
	record.Status = StepFailed
	if o.mayHaveLanded(cause) {
		record.Status = StepUncertain
	}
	record.LastError = cause.Error()
	record.UpdatedAt = o.now().UTC()

	execution.Status = ExecutionCompensating
	execution.FailedStep = record.Name
	execution.FailureReason = cause.Error()
	if o.failureCode != nil {
		execution.FailureCode = o.failureCode(cause)
	}
	if err := o.persist(ctx, execution); err != nil {
		return execution, err
	}

	logger.Error().Err(cause).
		Str("step", record.Name).
		Str("step_status", string(record.Status)).
		Int("attempts", record.AttemptCount).
		Msg("saga step failed, compensating")
	return o.compensate(ctx, def, execution, input, failed, cause, logger)
}

// mayHaveLanded reports whether a failed call could still have taken effect
// remotely: it timed out or failed in a way worth retrying.
func (o *Orchestrator[T]) mayHaveLanded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if attrs, ok := AttributesOf(err); ok && attrs.Timeout {
		return true
	}
	return o.classify(err)
}

// compensate undoes, newest first, the failed step when it is UNCERTAIN and every
// step before it that succeeded. A compensation that keeps failing does not stop
// the others.
func (o *Orchestrator[T]) compensate(
	ctx context.Context,
	def Definition[T],
	execution *Execution,
	input T,
	failed int,
	cause error,
	logger zerolog.Logger,
) (*Execution, error) {
	results := execution.Results()
	var failures []StepFailure

	if failed >= len(def.Steps) {
		failed = len(def.Steps) - 1
	}
	for i := failed; i >= 0; i-- {
		record := &execution.Steps[i]
		step := def.Steps[i]

		switch record.Status {
		case StepCompensationFailed:
			// a compensation that failed before a restart
			failures = append(failures, StepFailure{Step: step.Name, Err: errors.New(record.LastError)})
			continue
		case StepUncertain:
			if step.Compensate == nil {
				continue
			}
		case StepSucceeded:
		default:
			continue
		}

		if step.Compensate != nil {
			err := retry.Do(ctx, o.retry.backoff(), func(ctx context.Context) error {
				compCtx, cancel := o.withTimeout(ctx)
				defer cancel()
				err := step.Compensate(compCtx, input, results)
				if err == nil {
					return nil
				}
				logger.Warn().Err(err).Str("step", step.Name).Msg("compensation attempt failed")
				if ctx.Err() == nil && o.classify(err) {
					return retry.RetryableError(err)
				}
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return execution, errors.Wrapf(ErrInterrupted, "compensating %s: %v", step.Name, ctx.Err())
				}
				record.Status = StepCompensationFailed
				record.LastError = "compensation: " + err.Error()
				record.UpdatedAt = o.now().UTC()
				failures = append(failures, StepFailure{Step: step.Name, Err: err})

				logger.Error().Err(err).
					Str("event", "SagaCompensationFailure").
					Str("step", step.Name).
					Msg("compensation failed, manual intervention required")
				telemetry.RecordCounter(ctx, "saga_compensation_failures_total", "Compensations that exhausted their retries", 1,
					attribute.String("saga", def.Name), attribute.String("step", step.Name))

				if err := o.persist(ctx, execution); err != nil {
					return execution, err
				}
				continue
			}
		}

		record.Status = StepCompensated
		record.UpdatedAt = o.now().UTC()
		if err := o.persist(ctx, execution); err != nil {
			return execution, err
		}
		logger.Info().Str("step", step.Name).Msg("step compensated")
	}

	if len(failures) > 0 {
		execution.Status = ExecutionCompensationFailed
		if err := o.persist(ctx, execution); err != nil {
			return execution, err
		}
		telemetry.RecordCounter(ctx, "saga_finished_total", "Sagas that reached a terminal state", 1,
			attribute.String("saga", def.Name), attribute.String("status", string(ExecutionCompensationFailed)))
		return execution, &CompensationFailure{
			ExecutionID: execution.ID,
			FailedStep:  execution.FailedStep,
			Cause:       cause,
			Failures:    failures,
		}
	}

	execution.Status = ExecutionAborted
	if err := o.persist(ctx, execution); err != nil {
		return execution, err
	}
	logger.Info().Str("failed_step", execution.FailedStep).Msg("saga rolled back")
	telemetry.RecordCounter(ctx, "saga_finished_total", "Sagas that reached a terminal state", 1,
		attribute.String("saga", def.Name), attribute.String("status", string(ExecutionAborted)))
	return execution, &FailureError{
		ExecutionID: execution.ID,
		Step:        execution.FailedStep,
		Cause:       cause,
	}
}

func (o *Orchestrator[T]) persist(ctx context.Context, execution *Execution) error {
	execution.UpdatedAt = o.now().UTC()
	return errors.Wrapf(o.log.Save(ctx, execution), "save execution %s", execution.ID)
}

func (o *Orchestrator[T]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.stepTimeout)
}
