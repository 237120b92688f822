// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics_test

import (
	"sync"
	"testing"

	"github.com/grailbio/parmap/metrics"
)

func TestCounter(t *testing.T) {
	var (
		a, b metrics.Scope
		c    = metrics.NewCounter()
	)
	c.Incr(&a, 2)
	if got, want := c.Value(&a), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	c.Incr(&b, 123)
	if got, want := c.Value(&a), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Value(&b), int64(123); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	a.Merge(&b)
	if got, want := c.Value(&a), int64(125); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCounterConcurrent(t *testing.T) {
	var (
		scope metrics.Scope
		c     = metrics.NewCounter()
		wg    sync.WaitGroup
	)
	const N = 100
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			c.Incr(&scope, 1)
			wg.Done()
		}()
	}
	wg.Wait()
	if got, want := c.Value(&scope), int64(N); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
