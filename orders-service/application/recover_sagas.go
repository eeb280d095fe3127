package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/saga"
)

// RecoverySummary counts what one recovery pass did
type RecoverySummary struct {
	Scanned            int `json:"scanned"`
	Completed          int `json:"completed"`
	Aborted            int `json:"aborted"`
	CompensationFailed int `json:"compensation_failed"`
	Skipped            int `json:"skipped"`
	Errors             int `json:"errors"`
}

// RecoverSagasUseCase resumes executions left RUNNING or COMPENSATING by a crash
// or a shutdown.
type RecoverSagasUseCase struct {
	saga        *OrderSaga
	log         saga.Log
	batchSize   int
	concurrency int
	logger      zerolog.Logger
}

func NewRecoverSagasUseCase(orderSaga *OrderSaga, log saga.Log, batchSize, concurrency int, logger zerolog.Logger) *RecoverSagasUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &RecoverSagasUseCase{
		saga:        orderSaga,
		log:         log,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "saga_recovery").Logger(),
	}
}

// Execute runs one recovery pass
func (uc *RecoverSagasUseCase) Execute(ctx context.Context) (RecoverySummary, error) {
	var summary RecoverySummary

	executions, err := uc.log.ListIncomplete(ctx, uc.batchSize)
	if err != nil {
		return summary, errors.Wrap(err, "failed to list incomplete sagas")
	}
	summary.Scanned = len(executions)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)

	for _, execution := range executions {
		if execution.SagaName != SagaCreateOrder {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		id := execution.ID
		g.Go(func() error {
			_, err := uc.saga.Resume(gctx, id)
			outcome := classifyRecovery(err)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case recoveryCompleted:
				summary.Completed++
			case recoveryAborted:
				summary.Aborted++
			case recoveryCompensationFailed:
				summary.CompensationFailed++
			case recoverySkipped:
				summary.Skipped++
			default:
				summary.Errors++
				uc.logger.Error().Err(err).Str("execution_id", id).Msg("failed to resume saga")
			}
			// one broken saga must not stop the others
			return nil
		})
	}
	_ = g.Wait()

	if summary.Scanned > 0 {
		uc.logger.Info().
			Int("scanned", summary.Scanned).
			Int("completed", summary.Completed).
			Int("aborted", summary.Aborted).
			Int("compensation_failed", summary.CompensationFailed).
			Int("skipped", summary.Skipped).
			Int("errors", summary.Errors).
			Msg("saga recovery pass finished")
	}
	return summary, nil
}

// Run repeats Execute every interval until ctx is done
func (uc *RecoverSagasUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := uc.Execute(ctx); err != nil && ctx.Err() == nil {
			uc.logger.Error().Err(err).Msg("saga recovery pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type recoveryOutcome int

const (
	recoveryCompleted recoveryOutcome = iota
	recoveryAborted
	recoveryCompensationFailed
	recoverySkipped
	recoveryError
)

func classifyRecovery(err error) recoveryOutcome {
	var compensationFailure *saga.CompensationFailure
	var creationFailed *domain.OrderCreationFailedError

	switch {
	case err == nil:
		return recoveryCompleted
	case errors.As(err, &compensationFailure):
		return recoveryCompensationFailed
	case errors.As(err, &creationFailed):
		return recoveryAborted
	case errors.Is(err, domain.ErrOrderCreationInProgress), errors.Is(err, ErrSagaFinished):
		// another instance holds the lock or got there first
		return recoverySkipped
	default:
		return recoveryError
	}
}
