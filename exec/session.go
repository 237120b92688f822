// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/metrics"
	"github.com/grailbio/parmap/typecheck"
)

// Session represents a parmap compute session. A session shares a
// binary and executor, and is valid for the run of the binary. A
// session can run any number of Map calls, concurrently if desired;
// each call spins up a fresh set of workers and tears it down before
// returning.
//
// A session is started by Start. Some executors launch multiple
// copies of the binary: these additional binaries are called
// workers, and Start does not return in them.
//
// All functions must be created before Start is called, and must be
// created in a deterministic order. This is provided by default when
// functions are created as part of package initialization:
//
//	var square = parmap.Func(func(x int) int { return x * x })
//
//	func main() {
//		sess := exec.Start(exec.Local)
//		squares, err := sess.Map(ctx, square, []int{1, 2, 3})
//		if err != nil {
//			log.Fatal(err)
//		}
//		// Success!
//	}
type Session struct {
	context.Context
	index    int32
	shutdown func()
	p        int
	policy   FailurePolicy
	executor Executor
	status   *status.Status
	eventer  eventlog.Eventer

	// scope accumulates the metrics of all Map calls in the session.
	scope metrics.Scope
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
	}
}

// nextSessionIndex is the index of the next session that will be
// started by Start.
var nextSessionIndex int32

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-binary executor, which
// runs each worker in its own goroutine.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session using the bigmachine executor
// configured with the provided system, which runs each worker in its
// own machine (a separate process). If any params are provided, they
// are applied to each machine.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system, params...)
	}
}

// Parallelism bounds the number of workers that may run concurrently
// in each Map call. Each unit of work still runs in a fresh worker;
// workers beyond the bound wait for a running worker to terminate.
// By default, parallelism is unbounded: all workers run at once.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// FailFast configures the session so that Map returns only an error
// when any unit of work fails. This is the default.
var FailFast Option = func(s *Session) {
	s.policy = FailFastPolicy
}

// BestEffort configures the session so that Map returns the results
// of the units of work that succeeded, in order, along with an error
// that identifies the units that failed.
var BestEffort Option = func(s *Session) {
	s.policy = BestEffortPolicy
}

// Status configures the session with a status object to which
// map statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Eventer configures the session with an Eventer that will be used to
// log session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// Start creates and starts a new parmap session, configuring it
// according to the provided options. The returned session remains
// valid for the lifetime of the binary. If no executor is configured,
// the session is configured to use the local executor.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	s.start()
	return s
}

func (s *Session) start() {
	s.shutdown = s.executor.Start(s)
	s.eventer.Event("parmap:sessionStart",
		"executorType", s.executor.Name(),
		"parallelism", s.p,
		"failurePolicy", s.policy.String())
	log.Printf("parmap session %d: started %s executor (parallelism %s, %s)",
		s.index, s.executor.Name(), parallelismString(s.p), s.policy)
}

// Map applies the function funcv to each argument group in arguments
// and returns the results in the order of the argument groups.
// Arguments must be a slice or array; its elements are normalized by
// parmap.Normalize.
//
// A single argument group is applied inline, in the caller's
// goroutine. Otherwise each group is applied by its own worker, and
// Map waits for every worker to terminate before collecting results.
// Map returns an error satisfying parmap.IsInvalidArgument if
// arguments is not a list or does not match funcv's signature, and
// one satisfying parmap.IsEmptyInput if arguments is empty; in either
// case no worker is started. Failed units of work are reported,
// according to the session's failure policy, by an error of
// errors.Fatal severity from which parmap.AsFailures recovers the
// *parmap.Failures.
//
// Workers cannot be cancelled: if ctx is done while Map is waiting
// for workers to terminate, Map returns the context's error, and the
// workers run to completion in the background.
func (s *Session) Map(ctx context.Context, funcv *parmap.FuncValue, arguments interface{}) ([]interface{}, error) {
	return s.run(ctx, 1, funcv, arguments)
}

// Must is a version of Map that panics if the map fails.
func (s *Session) Must(ctx context.Context, funcv *parmap.FuncValue, arguments interface{}) []interface{} {
	results, err := s.run(ctx, 1, funcv, arguments)
	if err != nil {
		log.Panicf("exec.Map: %v", err)
	}
	return results
}

func (s *Session) run(ctx context.Context, calldepth int, funcv *parmap.FuncValue, arguments interface{}) ([]interface{}, error) {
	file, line := "<unknown>", 0
	if _, f, l, ok := runtime.Caller(calldepth + 1); ok {
		file, line = f, l
	}
	location := fmt.Sprintf("%s:%d", file, line)
	args, err := parmap.Normalize(arguments)
	if err != nil {
		return nil, err
	}
	invs := make([]parmap.Invocation, len(args))
	for i, arg := range args {
		if invs[i], err = invocation(file, line, funcv, location, arg); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("argument group %d", i), err)
		}
	}
	var scope metrics.Scope
	defer s.scope.Merge(&scope)
	ctx = metrics.ScopedContext(ctx, &scope)
	return s.dispatch(ctx, location, invs, &scope)
}

func invocation(file string, line int, funcv *parmap.FuncValue, location string, arg parmap.Arg) (inv parmap.Invocation, err error) {
	defer typecheck.Catch(&err, file, line)
	return funcv.Invocation(location, arg.Values()...), nil
}

// Parallelism returns the maximum number of concurrently running
// workers per Map call, or 0 if it is unbounded.
func (s *Session) Parallelism() int {
	return s.p
}

// FailurePolicy returns the session's failure policy.
func (s *Session) FailurePolicy() FailurePolicy {
	return s.policy
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Scope returns the merged metrics scope of all Map calls in the
// session that have returned.
func (s *Session) Scope() *metrics.Scope {
	return &s.scope
}

// Executor returns the name of the session's executor.
func (s *Session) Executor() string {
	return s.executor.Name()
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

var (
	defaultOnce    sync.Once
	defaultSession *Session
)

// Map applies funcv to each of the argument groups in arguments using
// a default session with the local executor, which is started on
// first use. See Session.Map.
func Map(ctx context.Context, funcv *parmap.FuncValue, arguments interface{}) ([]interface{}, error) {
	defaultOnce.Do(func() {
		defaultSession = Start(Local)
	})
	return defaultSession.run(ctx, 1, funcv, arguments)
}

func parallelismString(p int) string {
	if p == 0 {
		return "unbounded"
	}
	return fmt.Sprint(p)
}
