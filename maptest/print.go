// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package maptest

import (
	"context"
	"fmt"
	"log"

	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/exec"
)

// Print maps funcv over arguments and prints each result to stdout
// on its own line, in argument order. This is useful in func
// examples, as we can rely on the deterministic order in our expected
// output. Print uses local evaluation, so all user functions are
// executed within the same process. This makes it safe and
// convenient to use shared memory in user functions.
//
// Failed units are printed as "<index>: error: <err>".
func Print(funcv *parmap.FuncValue, arguments interface{}) {
	sess := exec.Start(exec.Local, exec.BestEffort)
	results, err := sess.Map(context.Background(), funcv, arguments)
	failures, ok := parmap.AsFailures(err)
	if err != nil && !ok {
		log.Panicf("unhandled error running map: %v", err)
	}
	n := len(results)
	if failures != nil {
		n = failures.N
	}
	var next int
	for index := 0; index < n; index++ {
		if failures != nil {
			if ferr := failures.Err(index); ferr != nil {
				fmt.Printf("%d: error: %v\n", index, ferr)
				continue
			}
		}
		fmt.Println(results[next])
		next++
	}
}
