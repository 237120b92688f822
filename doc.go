// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package parmap implements a minimal parallel map: a function is
	applied once to each of a list of argument groups, each
	application running in its own worker, and the results are
	returned in the order of the arguments.

	Parmap is intended for CPU-bound work over in-memory numeric data.
	Workers typically communicate their results by mutating memory
	shared with the caller (see package
	github.com/grailbio/parmap/shm) rather than by returning large
	buffers.

	Because Go cannot serialize code to be sent to another process,
	mapped functions must be created by parmap.Func, and all such
	functions must be created before a session is started. This rule is
	easy to follow: if funcs are global variables, then the program is
	compliant.

		var add = parmap.Func(func(x, y int) int { return x + y })

		func main() {
			sess := exec.Start(exec.Local)
			sums, err := sess.Map(ctx, add, [][]int{{1, 2}, {2, 3}, {3, 4}})
			// sums is []interface{}{3, 5, 7}
		}

	Argument groups

	Each element of the argument list is an argument group. Groups are
	represented by Arg, which is either a scalar (a single argument) or
	a tuple (an ordered list of positional arguments). When the
	argument list is not a []Arg, each element is classified by
	Normalize: slices and arrays are tuples, everything else is a
	scalar. Wrap a slice in Scalar to pass it as a single argument.

	Chunking

	Map spawns one worker per argument group. When the number of
	logical units of work is large, use Chunks (or Chunkify) to group
	them so that each worker handles a whole chunk.

		chunks := parmap.Chunks(len(values), runtime.NumCPU())
		_, err := sess.Map(ctx, fillChunk, chunks)

	Functions may take a context.Context as their first parameter. If
	so, the context of the Map call is supplied, carrying a metrics
	scope (github.com/grailbio/parmap/metrics.Scope) which can be used
	to update metric values during processing.
*/
package parmap
