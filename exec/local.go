// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
)

// localExecutor is an executor that runs each worker in-process, in
// its own goroutine. Workers share the binary's memory, so functions
// may mutate shared state directly.
type localExecutor struct {
	// limiter bounds the number of running workers. It is nil when
	// parallelism is unbounded.
	limiter *limiter.Limiter
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{}
}

func (*localExecutor) Name() string {
	return "local"
}

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	if p := sess.Parallelism(); p > 0 {
		l.limiter = limiter.New()
		l.limiter.Release(p)
	}
	return func() {}
}

func (l *localExecutor) Run(ctx context.Context, w *Worker) {
	go l.run(ctx, w)
}

func (l *localExecutor) run(ctx context.Context, w *Worker) {
	if l.limiter != nil {
		// Waiting for a slot is not abandoned with the caller's context:
		// workers run to completion once they are spawned.
		if err := l.limiter.Acquire(context.Background(), 1); err != nil {
			log.Panicf("exec.Local: unexpected error: %v", err)
		}
		defer l.limiter.Release(1)
	}
	w.Set(WorkerRunning)
	value, err := w.Invocation.Call(ctx)
	w.Complete(value, err)
}
