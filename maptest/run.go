// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package maptest provides utilities for testing parmap user code.
// The utilities here are generally not optimized for performance or
// robustness; they are strictly intended for unit testing.
package maptest

import (
	"context"
	"testing"

	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/exec"
)

// Executors returns the executors under which user code should be
// tested, keyed by name: the local executor, and the bigmachine
// executor with an in-process test system. Every call returns fresh
// options.
func Executors() map[string]exec.Option {
	return map[string]exec.Option{
		"Local":           exec.Local,
		"Bigmachine.Test": exec.Bigmachine(testsystem.New()),
	}
}

// Run maps funcv over arguments in local execution mode, returning
// the results in argument order. Errors are reported as fatal to the
// provided t instance. Run is intended for unit testing of parmap
// funcs.
func Run(t *testing.T, funcv *parmap.FuncValue, arguments interface{}) []interface{} {
	t.Helper()
	return RunWith(t, exec.Local, funcv, arguments)
}

// RunWith is like Run, but evaluates using a fresh session
// configured with the provided options.
func RunWith(t *testing.T, option exec.Option, funcv *parmap.FuncValue, arguments interface{}) []interface{} {
	t.Helper()
	sess := exec.Start(option)
	defer sess.Shutdown()
	results, err := sess.Map(context.Background(), funcv, arguments)
	if err != nil {
		t.Fatal(err)
	}
	return results
}

// ForEachExecutor runs test as a subtest for each executor returned
// by Executors, with a session started for that executor.
func ForEachExecutor(t *testing.T, test func(t *testing.T, sess *exec.Session), options ...exec.Option) {
	t.Helper()
	for name, executor := range Executors() {
		t.Run(name, func(t *testing.T) {
			sess := exec.Start(append([]exec.Option{executor}, options...)...)
			defer sess.Shutdown()
			test(t, sess)
		})
	}
}
