package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAborted  = errors.New("request aborted by page")
	errTimedOut = errors.New("request timed out")
)

// abortMemory bounds how long an abort for an id that is not (yet) in flight
// is remembered.
const abortMemory = time.Minute

// inflightTable maps request ids to cancel functions and remembers which ids
// were explicitly aborted.
type inflightTable struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	aborted map[string]time.Time
	now     func() time.Time
}

func newInflightTable() *inflightTable {
	return &inflightTable{
		cancels: make(map[string]context.CancelCauseFunc),
		aborted: make(map[string]time.Time),
		now:     time.Now,
	}
}

// register tracks cancel under id. An abort that arrived before registration
// cancels immediately.
func (t *inflightTable) register(id string, cancel context.CancelCauseFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[id] = cancel
	if _, ok := t.aborted[id]; ok {
		cancel(ErrAborted)
	}
}

func (t *inflightTable) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, id)
	delete(t.aborted, id)
}

// abort records id as aborted and cancels it if in flight. It reports
// whether a live request was cancelled.
func (t *inflightTable) abort(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for k, at := range t.aborted {
		if now.Sub(at) > abortMemory {
			delete(t.aborted, k)
		}
	}
	t.aborted[id] = now
	if cancel, ok := t.cancels[id]; ok {
		cancel(ErrAborted)
		return true
	}
	return false
}

func (t *inflightTable) wasAborted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.aborted[id]
	return ok
}

func (t *inflightTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}
