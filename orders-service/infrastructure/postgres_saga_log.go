package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/draftea/order-system/shared/saga"
)

// PostgresSagaLog implements saga.Log using PostgreSQL
type PostgresSagaLog struct {
	db *sqlx.DB
}

func NewPostgresSagaLog(db *sqlx.DB) *PostgresSagaLog {
	return &PostgresSagaLog{db: db}
}

type postgresExecution struct {
	ID            string    `db:"id"`
	SagaName      string    `db:"saga_name"`
	Status        string    `db:"status"`
	FailedStep    *string   `db:"failed_step"`
	FailureCode   *string   `db:"failure_code"`
	FailureReason *string   `db:"failure_reason"`
	Input         []byte    `db:"input"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type postgresStep struct {
	ExecutionID    string    `db:"execution_id"`
	Position       int       `db:"position"`
	Name           string    `db:"name"`
	Status         string    `db:"status"`
	AttemptCount   int       `db:"attempt_count"`
	IdempotencyKey *string   `db:"idempotency_key"`
	LastError      *string   `db:"last_error"`
	ResultHandle   *string   `db:"result_handle"`
	ResultData     *string   `db:"result_data"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const selectExecutionColumns = `
	SELECT id, saga_name, status, failed_step, failure_code, failure_reason, input,
		   version, created_at, updated_at
	FROM saga_executions`

const selectStepColumns = `
	SELECT execution_id, position, name, status, attempt_count, idempotency_key,
		   last_error, result_handle, result_data, updated_at
	FROM saga_steps`

// Create inserts a new execution with version 1
func (l *PostgresSagaLog) Create(ctx context.Context, execution *saga.Execution) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	row := toPostgresExecution(execution)
	row.Version = 1

	result, err := tx.NamedExecContext(ctx, `
		INSERT INTO saga_executions (
			id, saga_name, status, failed_step, failure_code, failure_reason, input,
			version, created_at, updated_at
		) VALUES (
			:id, :saga_name, :status, :failed_step, :failure_code, :failure_reason, :input,
			:version, :created_at, :updated_at
		)
		ON CONFLICT (id) DO NOTHING`, row)
	if err != nil {
		return errors.Wrap(err, "failed to insert saga execution")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to insert saga execution")
	}
	if rows == 0 {
		return errors.Wrap(saga.ErrExecutionExists, execution.ID)
	}

	if err := upsertSteps(ctx, tx, execution); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit saga execution")
	}
	execution.Version = 1
	return nil
}

// Save writes the execution if its version is still the stored one
func (l *PostgresSagaLog) Save(ctx context.Context, execution *saga.Execution) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	row := toPostgresExecution(execution)
	result, err := tx.NamedExecContext(ctx, `
		UPDATE saga_executions
		SET status = :status, failed_step = :failed_step, failure_code = :failure_code,
			failure_reason = :failure_reason, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return errors.Wrap(err, "failed to update saga execution")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update saga execution")
	}
	if rows == 0 {
		return errors.Wrapf(saga.ErrStaleExecution, "%s: expected version %d", execution.ID, execution.Version)
	}

	if err := upsertSteps(ctx, tx, execution); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit saga execution")
	}
	execution.Version++
	return nil
}

func upsertSteps(ctx context.Context, tx *sqlx.Tx, execution *saga.Execution) error {
	query := `
		INSERT INTO saga_steps (
			execution_id, position, name, status, attempt_count, idempotency_key,
			last_error, result_handle, result_data, updated_at
		) VALUES (
			:execution_id, :position, :name, :status, :attempt_count, :idempotency_key,
			:last_error, :result_handle, :result_data, :updated_at
		)
		ON CONFLICT (execution_id, position) DO UPDATE
		SET status = EXCLUDED.status, attempt_count = EXCLUDED.attempt_count,
			last_error = EXCLUDED.last_error, result_handle = EXCLUDED.result_handle,
			result_data = EXCLUDED.result_data, updated_at = EXCLUDED.updated_at`

	for i, step := range execution.Steps {
		if _, err := tx.NamedExecContext(ctx, query, toPostgresStep(execution.ID, i, step)); err != nil {
			return errors.Wrapf(err, "failed to save saga step %s", step.Name)
		}
	}
	return nil
}

func (l *PostgresSagaLog) Get(ctx context.Context, id string) (*saga.Execution, error) {
	var row postgresExecution
	if err := l.db.GetContext(ctx, &row, selectExecutionColumns+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(saga.ErrExecutionNotFound, id)
		}
		return nil, errors.Wrap(err, "failed to find saga execution")
	}

	var steps []postgresStep
	if err := l.db.SelectContext(ctx, &steps, selectStepColumns+` WHERE execution_id = $1 ORDER BY position`, id); err != nil {
		return nil, errors.Wrap(err, "failed to find saga steps")
	}
	return toDomainExecution(row, steps), nil
}

// ListIncomplete returns RUNNING and COMPENSATING executions, least recently touched first
func (l *PostgresSagaLog) ListIncomplete(ctx context.Context, limit int) ([]*saga.Execution, error) {
	var rows []postgresExecution
	err := l.db.SelectContext(ctx, &rows,
		selectExecutionColumns+` WHERE status IN ($1, $2) ORDER BY updated_at LIMIT $3`,
		string(saga.ExecutionRunning), string(saga.ExecutionCompensating), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list incomplete sagas")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	var steps []postgresStep
	err = l.db.SelectContext(ctx, &steps,
		selectStepColumns+` WHERE execution_id = ANY($1) ORDER BY execution_id, position`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list saga steps")
	}

	byExecution := make(map[string][]postgresStep, len(rows))
	for _, step := range steps {
		byExecution[step.ExecutionID] = append(byExecution[step.ExecutionID], step)
	}

	executions := make([]*saga.Execution, len(rows))
	for i, row := range rows {
		executions[i] = toDomainExecution(row, byExecution[row.ID])
	}
	return executions, nil
}

func toPostgresExecution(execution *saga.Execution) postgresExecution {
	return postgresExecution{
		ID:            execution.ID,
		SagaName:      execution.SagaName,
		Status:        string(execution.Status),
		FailedStep:    nullable(execution.FailedStep),
		FailureCode:   nullable(execution.FailureCode),
		FailureReason: nullable(execution.FailureReason),
		Input:         execution.Input,
		Version:       execution.Version,
		CreatedAt:     execution.CreatedAt,
		UpdatedAt:     execution.UpdatedAt,
	}
}

func toPostgresStep(executionID string, position int, step saga.StepRecord) postgresStep {
	row := postgresStep{
		ExecutionID:    executionID,
		Position:       position,
		Name:           step.Name,
		Status:         string(step.Status),
		AttemptCount:   step.AttemptCount,
		IdempotencyKey: nullable(step.IdempotencyKey),
		LastError:      nullable(step.LastError),
		UpdatedAt:      step.UpdatedAt,
	}
	if step.Result != nil {
		row.ResultHandle = nullable(step.Result.Handle)
		if len(step.Result.Data) > 0 {
			row.ResultData = nullable(string(step.Result.Data))
		}
	}
	return row
}

func toDomainExecution(row postgresExecution, steps []postgresStep) *saga.Execution {
	execution := &saga.Execution{
		ID:            row.ID,
		SagaName:      row.SagaName,
		Status:        saga.ExecutionStatus(row.Status),
		FailedStep:    value(row.FailedStep),
		FailureCode:   value(row.FailureCode),
		FailureReason: value(row.FailureReason),
		Input:         json.RawMessage(row.Input),
		Steps:         make([]saga.StepRecord, len(steps)),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	for i, step := range steps {
		record := saga.StepRecord{
			Name:           step.Name,
			Status:         saga.StepStatus(step.Status),
			AttemptCount:   step.AttemptCount,
			IdempotencyKey: value(step.IdempotencyKey),
			LastError:      value(step.LastError),
			UpdatedAt:      step.UpdatedAt,
		}
		if step.ResultHandle != nil || step.ResultData != nil {
			record.Result = &saga.StepResult{Handle: value(step.ResultHandle)}
			if step.ResultData != nil {
				record.Result.Data = json.RawMessage(*step.ResultData)
			}
		}
		execution.Steps[i] = record
	}
	return execution
}
