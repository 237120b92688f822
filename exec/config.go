// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
)

func init() {
	config.Register("parmap", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.p, "parallelism", 0, "maximum number of concurrently running workers per map; 0 is unbounded")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system used to run workers; if empty, workers run in-process")
		var bestEffort bool
		inst.BoolVar(&bestEffort, "best-effort", false, "return partial results when units of work fail")
		inst.Doc = "parmap configures the parmap runtime"
		inst.New = func() (interface{}, error) {
			if system != nil {
				sess.executor = newBigmachineExecutor(system)
			} else {
				sess.executor = newLocalExecutor()
			}
			if sess.p < 0 {
				sess.p = 0
			}
			if bestEffort {
				sess.policy = BestEffortPolicy
			}
			sess.start()
			return sess, nil
		}
	})
}
