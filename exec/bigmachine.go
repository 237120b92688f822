// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/metrics"
)

// FatalErr is used to match fatal errors.
var fatalErr = errors.E(errors.Fatal)

func init() {
	gob.Register(&worker{})
}

// bigmachineExecutor is an executor that runs each worker in its own
// bigmachine machine. A machine is started for every unit of work
// and stopped as soon as the unit terminates, so no state is carried
// between units.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	b      *bigmachine.B
	status *status.Group
	// limiter bounds the number of live machines. It is nil when
	// parallelism is unbounded.
	limiter *limiter.Limiter
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

func (b *bigmachineExecutor) Name() string {
	return "bigmachine:" + b.system.Name()
}

// Start starts the bigmachine. In worker processes, Start does not
// return.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	b.b = bigmachine.Start(b.system)
	if status := sess.Status(); status != nil {
		b.status = status.Group("bigmachine")
	}
	if p := sess.Parallelism(); p > 0 {
		b.limiter = limiter.New()
		b.limiter.Release(p)
	}
	return b.b.Shutdown
}

func (b *bigmachineExecutor) Run(ctx context.Context, w *Worker) {
	go b.run(ctx, w)
}

func (b *bigmachineExecutor) run(ctx context.Context, w *Worker) {
	if b.limiter != nil {
		if err := b.limiter.Acquire(context.Background(), 1); err != nil {
			log.Panicf("exec.Bigmachine: unexpected error: %v", err)
		}
		defer b.limiter.Release(1)
	}
	if w.Status != nil {
		w.Status.Print("waiting for machine to boot")
	}
	m, err := b.startMachine(ctx)
	if err != nil {
		w.Lost(err)
		return
	}
	defer m.Cancel()
	if w.Status != nil {
		w.Status.Title(fmt.Sprintf("unit %d: %s", w.Index, m.Addr))
	}
	w.Set(WorkerRunning)
	var reply applyReply
	if err := m.Call(ctx, "Worker.Apply", w.Invocation, &reply); err != nil {
		// The function's own failures are returned in the reply, so
		// any error here means that we lost the machine.
		w.Lost(errors.E(errors.Unavailable, fmt.Sprintf("machine %s", m.Addr), err))
		return
	}
	w.Scope.Merge(&reply.Scope)
	w.Complete(reply.Value, reply.err())
}

// startMachine starts a single machine and waits for it to be ready to
// apply funcs. The machine's func registry is checked against the
// driver's.
func (b *bigmachineExecutor) startMachine(ctx context.Context) (*bigmachine.Machine, error) {
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, b.params...)
	machines, err := b.b.Start(ctx, 1, params...)
	if err != nil {
		return nil, errors.E(errors.Unavailable, "error starting machine", err)
	}
	m := machines[0]
	<-m.Wait(bigmachine.Running)
	if err := m.Err(); err != nil {
		log.Printf("machine %s failed to start: %v", m.Addr, err)
		m.Cancel()
		return nil, err
	}
	var fingerprint uint64
	if err := m.Call(ctx, "Worker.Fingerprint", struct{}{}, &fingerprint); err != nil {
		m.Cancel()
		return nil, err
	}
	if fingerprint != parmap.Fingerprint() {
		var locs []string
		if err := m.Call(ctx, "Worker.FuncLocations", struct{}{}, &locs); err == nil {
			for _, edit := range parmap.FuncLocationsDiff(parmap.FuncLocations(), locs) {
				log.Printf("[funcsdiff] %s", edit)
			}
		}
		m.Cancel()
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("machine %s has different funcs; check for local or non-deterministic Func creation", m.Addr))
	}
	log.Debug.Printf("machine %v is ready", m.Addr)
	if b.status != nil {
		b.status.Printf("last started machine %s", m.Addr)
	}
	return m, nil
}

// applyReply is the reply to Worker.Apply.
type applyReply struct {
	Value interface{}
	// Err is the message of the error returned by the function, if
	// it failed, and Kind its error kind.
	Err   string
	Kind  errors.Kind
	Scope metrics.Scope
}

// err returns the function's failure as a fatal error, or nil.
func (r *applyReply) err() error {
	if r.Err == "" {
		return nil
	}
	return errors.E(errors.Fatal, r.Kind, r.Err)
}

// Worker is the bigmachine service that applies funcs on behalf of the
// bigmachine executor.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}
}

// Fingerprint returns the fingerprint of the worker's func registry.
func (w *worker) Fingerprint(ctx context.Context, _ struct{}, fingerprint *uint64) error {
	*fingerprint = parmap.Fingerprint()
	return nil
}

// FuncLocations returns the locations of the worker's registered
// funcs, for diagnosing registry mismatches.
func (w *worker) FuncLocations(ctx context.Context, _ struct{}, locs *[]string) error {
	*locs = parmap.FuncLocations()
	return nil
}

// Apply applies the provided invocation. Failures of the function
// are reported in the reply, so that the driver can distinguish them
// from machine failures.
func (w *worker) Apply(ctx context.Context, inv parmap.Invocation, reply *applyReply) error {
	ctx = metrics.ScopedContext(ctx, &reply.Scope)
	value, err := inv.Call(ctx)
	if err != nil {
		log.Printf("%s: %v", inv, err)
		reply.Err = err.Error()
		reply.Kind = errors.Recover(err).Kind
		return nil
	}
	reply.Value = value
	return nil
}
