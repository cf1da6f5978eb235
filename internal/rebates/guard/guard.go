// Package guard keeps at most one mutating request in flight per rebate stage.
// The guard is advisory: the server-side re-checks in the service are what
// keep data consistent. The guard only stops double clicks and parallel tabs
// from issuing the same mutation twice.
package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrInFlight is returned when another mutation holds the key.
var ErrInFlight = errors.New("mutation already in flight")

// Key builds the guard key for one stage of one rebate.
func Key(year, rebateID, stage string) string {
	return year + ":" + rebateID + ":" + stage
}

// Local is an in-process guard. It is enough when a single replica serves traffic.
type Local struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewLocal creates an in-process guard.
func NewLocal() *Local {
	return &Local{active: make(map[string]bool)}
}

// Acquire marks key as running. The returned release must be called once the
// mutation finishes, whether it succeeded or not.
func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[key] {
		return nil, ErrInFlight
	}
	l.active[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.active, key)
		})
	}, nil
}
