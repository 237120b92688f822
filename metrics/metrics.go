// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics provides counters whose values are kept in scopes.
// A scope is attached to every Map call and to the context passed to
// mapped functions that accept one; scopes of individual calls are
// merged into their session's scope.
//
// Counters are identified by their creation order, so, like parmap
// funcs, they must be created deterministically (e.g., as package
// level variables) for scopes to be meaningful across processes.
package metrics

import (
	"sync"
	"sync/atomic"
)

var (
	mu sync.Mutex
	// nextID is the ID of the next metric to be created. We reserve ID
	// 0 to minimize the chances of zero-valued metrics being used
	// uninitialized.
	nextID = 1
)

func newID() int {
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	return id
}

// A Counter is a monotonically increasing metric.
type Counter struct {
	id int
}

// NewCounter creates a new counter.
func NewCounter() Counter {
	return Counter{id: newID()}
}

// Value returns the value of counter c in scope.
func (c Counter) Value(scope *Scope) int64 {
	return atomic.LoadInt64(scope.instance(c.id))
}

// Incr increments the value of counter c in scope by n.
func (c Counter) Incr(scope *Scope, n int64) {
	if c.id == 0 {
		panic("metrics: counter used uninitialized")
	}
	atomic.AddInt64(scope.instance(c.id), n)
}
