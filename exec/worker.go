// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/ctxsync"
	"github.com/grailbio/parmap/metrics"
)

// ErrWorkerLost indicates that a worker terminated without reporting
// a result.
var ErrWorkerLost = errors.New("worker was lost")

// WorkerState represents the runtime state of a Worker. WorkerState
// values are defined so that their magnitudes correspond with worker
// progression.
type WorkerState int

const (
	// WorkerInit is the initial state of a worker: it has been created
	// but is not yet running, for example because it is waiting for
	// its execution context to be allocated.
	WorkerInit WorkerState = iota
	// WorkerRunning is the state of a worker that is currently
	// applying its function.
	WorkerRunning

	// WorkerOk indicates that the worker has completed successfully
	// and deposited its result.
	//
	// WorkerOk and all larger-valued states are terminal.
	WorkerOk

	// WorkerErr indicates that the worker's function failed. The
	// failure is deposited alongside the worker's index.
	WorkerErr
	// WorkerLost indicates that the worker terminated abnormally,
	// usually because its process died, and deposited nothing.
	WorkerLost

	maxState
)

var states = [...]string{
	WorkerInit:    "INIT",
	WorkerRunning: "RUNNING",
	WorkerOk:      "OK",
	WorkerErr:     "ERROR",
	WorkerLost:    "LOST",
}

// String returns the state's string representation.
func (s WorkerState) String() string {
	return states[s]
}

// Terminal tells whether the state is a terminal state.
func (s WorkerState) Terminal() bool {
	return s >= WorkerOk
}

// A Result is the outcome of a unit of work, as deposited by its
// worker in the result channel.
type Result struct {
	// Index is the index of the unit of work.
	Index int
	// Value is the value returned by the function, if any.
	Value interface{}
	// Err is the error that caused the unit to fail, if any.
	Err error
}

// A Worker is an execution context created for exactly one unit of
// work. Workers are created by the dispatcher and run by an
// Executor, which reports the worker's outcome through Complete or
// Lost. Workers do not communicate with each other.
type Worker struct {
	// Index is the index of the unit of work in the argument list.
	Index int
	// Invocation is the function application computed by the worker.
	Invocation parmap.Invocation
	// Status is the status task for the worker. It may be nil.
	Status *status.Task
	// Scope is the metrics scope of the Map call to which the worker
	// belongs. Executors that run functions out of process merge the
	// remote scope into it.
	Scope *metrics.Scope

	results chan<- Result

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state WorkerState
	err   error
}

func newWorker(index int, inv parmap.Invocation, scope *metrics.Scope, results chan<- Result) *Worker {
	w := &Worker{
		Index:      index,
		Invocation: inv,
		Scope:      scope,
		results:    results,
	}
	w.cond = ctxsync.NewCond(&w.mu)
	return w
}

// Set sets the worker's state to the provided non-terminal state and
// notifies waiters. Terminal states are set by Complete and Lost.
func (w *Worker) Set(state WorkerState) {
	if state.Terminal() {
		log.Panicf("worker %d: state %s must be set by Complete or Lost", w.Index, state)
	}
	w.mu.Lock()
	w.state = state
	w.cond.Broadcast()
	w.mu.Unlock()
	log.Debug.Printf("worker %d: %s", w.Index, state)
	if w.Status != nil {
		w.Status.Print(state.String())
	}
}

// Complete deposits the worker's result into the result channel and
// then sets its state to WorkerOk, or to WorkerErr if err is non-nil.
// Complete must be called at most once, and not together with Lost.
func (w *Worker) Complete(value interface{}, err error) {
	w.results <- Result{Index: w.Index, Value: value, Err: err}
	state := WorkerOk
	if err != nil {
		state = WorkerErr
	}
	w.terminate(state, err)
}

// Lost sets the worker's state to WorkerLost without depositing a
// result. The provided error, which may be nil, describes the reason.
func (w *Worker) Lost(err error) {
	if err == nil {
		err = ErrWorkerLost
	}
	w.terminate(WorkerLost, err)
}

func (w *Worker) terminate(state WorkerState, err error) {
	w.mu.Lock()
	if w.state.Terminal() {
		w.mu.Unlock()
		log.Panicf("worker %d: terminated twice (%s, then %s)", w.Index, w.state, state)
	}
	w.state = state
	w.err = err
	w.cond.Broadcast()
	w.mu.Unlock()
	switch state {
	case WorkerOk:
		log.Debug.Printf("worker %d: %s", w.Index, state)
	default:
		log.Error.Printf("worker %d: %s: %v", w.Index, state, err)
	}
	if w.Status != nil {
		if err != nil {
			w.Status.Printf("%s: %v", state, err)
		} else {
			w.Status.Print(state.String())
		}
		w.Status.Done()
	}
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error with which the worker failed, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// WaitState returns when the worker's state is at least the provided
// state, or else when the context is done.
func (w *Worker) WaitState(ctx context.Context, state WorkerState) (WorkerState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.cond.WaitUntil(ctx, func() bool { return w.state >= state })
	return w.state, err
}

// String returns a short, human-readable string describing the
// worker's state.
func (w *Worker) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b bytes.Buffer
	fmt.Fprintf(&b, "worker %d [%d] %s", w.Index, w.Invocation.Index, w.state)
	if w.err != nil {
		fmt.Fprintf(&b, ": %v", w.err)
	}
	return b.String()
}
