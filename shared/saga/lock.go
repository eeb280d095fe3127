package saga

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrLocked is returned when another worker owns the saga
var ErrLocked = errors.New("saga is locked by another worker")

// Unlock releases a lock obtained from a Locker
type Unlock func(ctx context.Context) error

// Locker guarantees a single driver per saga execution
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LocalLocker is an in-process Locker for single instance deployments
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Lock(_ context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, errors.Wrap(ErrLocked, key)
	}
	l.held[key] = struct{}{}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
