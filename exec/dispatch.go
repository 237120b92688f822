// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/metrics"
)

// Executor defines an interface used to provide implementations of
// isolated workers to a session.
type Executor interface {
	// Name returns a human-friendly name for this executor.
	Name() string

	// Start starts the executor. It is called before any workers are
	// run, and should not return until the executor is ready to run
	// workers. Start returns a function that tears down the executor.
	Start(*Session) (shutdown func())

	// Run starts the worker w, which is in state WorkerInit. Run
	// returns immediately. The executor reports the worker's outcome
	// by calling exactly one of w.Complete or w.Lost. The provided
	// context carries the call's values but is never cancelled.
	Run(ctx context.Context, w *Worker)
}

var (
	// UnitsDispatched counts the units of work submitted to Map.
	UnitsDispatched = metrics.NewCounter()
	// WorkersStarted counts the workers spawned by Map.
	WorkersStarted = metrics.NewCounter()
	// InlineRuns counts the units of work that were applied inline,
	// without a worker.
	InlineRuns = metrics.NewCounter()
	// UnitsFailed counts the units of work that failed.
	UnitsFailed = metrics.NewCounter()
)

// dispatch applies the invocations invs, in order, and collects their
// results according to the session's failure policy.
func (s *Session) dispatch(ctx context.Context, location string, invs []parmap.Invocation, scope *metrics.Scope) ([]interface{}, error) {
	n := len(invs)
	UnitsDispatched.Incr(scope, int64(n))
	results := make(chan Result, n)
	var workers []*Worker
	if n == 1 {
		InlineRuns.Incr(scope, 1)
		value, err := invs[0].Call(ctx)
		results <- Result{Index: 0, Value: value, Err: err}
	} else {
		var group *status.Group
		if s.status != nil {
			group = s.status.Groupf("map %s [%d]", location, invs[0].Index)
		}
		// Workers run to completion even if the caller's context is
		// done; ctx only bounds the wait below.
		wctx := context.WithoutCancel(ctx)
		workers = make([]*Worker, n)
		for i, inv := range invs {
			w := newWorker(i, inv, scope, results)
			if group != nil {
				w.Status = group.Startf("unit %d", i)
			}
			workers[i] = w
			s.executor.Run(wctx, w)
		}
		WorkersStarted.Incr(scope, int64(n))
		// Barrier: wait for every worker to terminate, in spawn order,
		// before consuming any result.
		for _, w := range workers {
			if _, err := w.WaitState(ctx, WorkerOk); err != nil {
				log.Error.Printf("map %s: abandoned wait for %s: %v", location, w, err)
				return nil, err
			}
		}
	}
	table := drain(results, n)
	values, err := table.Resolve(s.policy, func(index int) error {
		if workers == nil {
			return nil
		}
		return workers[index].Err()
	})
	var nfailed int
	if failures, ok := err.(*parmap.Failures); ok {
		nfailed = len(failures.Errs)
		UnitsFailed.Incr(scope, int64(nfailed))
		log.Error.Printf("map %s: %v", location, err)
		err = failures.E()
	}
	s.eventer.Event("parmap:map",
		"location", location,
		"units", n,
		"failed", nfailed)
	return values, err
}
