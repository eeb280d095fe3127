package saga

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryLog is a Log kept in process memory. It is used by tests and by local runs
// without a database.
type MemoryLog struct {
	mu         sync.RWMutex
	executions map[string]*Execution
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{executions: make(map[string]*Execution)}
}

func (l *MemoryLog) Create(_ context.Context, execution *Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.executions[execution.ID]; ok {
		return errors.Wrap(ErrExecutionExists, execution.ID)
	}
	execution.Version = 1
	l.executions[execution.ID] = execution.Clone()
	return nil
}

func (l *MemoryLog) Save(_ context.Context, execution *Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.executions[execution.ID]
	if !ok {
		return errors.Wrap(ErrExecutionNotFound, execution.ID)
	}
	if stored.Version != execution.Version {
		return errors.Wrapf(ErrStaleExecution, "%s: expected version %d, stored %d",
			execution.ID, execution.Version, stored.Version)
	}
	execution.Version++
	l.executions[execution.ID] = execution.Clone()
	return nil
}

func (l *MemoryLog) Get(_ context.Context, id string) (*Execution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored, ok := l.executions[id]
	if !ok {
		return nil, errors.Wrap(ErrExecutionNotFound, id)
	}
	return stored.Clone(), nil
}

func (l *MemoryLog) ListIncomplete(_ context.Context, limit int) ([]*Execution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var pending []*Execution
	for _, execution := range l.executions {
		if !execution.Status.IsTerminal() {
			pending = append(pending, execution.Clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
