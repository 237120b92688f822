// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/parmap"
	"github.com/grailbio/parmap/exec"
	"github.com/grailbio/parmap/shm"
)

type params struct {
	n, nchunk int
}

// A workload runs a map in the session and checks its results. It
// returns a short description of the output.
type workload func(ctx context.Context, sess *exec.Session, p params) (string, error)

var workloads = map[string]workload{
	"fill":    fill,
	"squares": squares,
	"adds":    adds,
	"chunks":  chunks,
}

var fillIndex = parmap.Func(func(region shm.Region, i int) error {
	a, err := shm.Open(region)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Set(float64(i), i)
	return nil
})

// fill sets every element of a shared array to its index, one
// worker per element.
func fill(ctx context.Context, sess *exec.Session, p params) (string, error) {
	a, err := shm.Zeros(p.n)
	if err != nil {
		return "", err
	}
	defer a.Remove()
	args := make([]parmap.Arg, p.n)
	for i := range args {
		args[i] = parmap.Tuple(a.Region(), i)
	}
	if _, err := sess.Map(ctx, fillIndex, args); err != nil {
		return "", err
	}
	values := append([]float64(nil), a.Data()...)
	for i, v := range values {
		if v != float64(i) {
			return "", fmt.Errorf("element %d: got %v, want %v", i, v, float64(i))
		}
	}
	return fmt.Sprint(values), nil
}

var square = parmap.Func(func(x int) int { return x * x })

func squares(ctx context.Context, sess *exec.Session, p params) (string, error) {
	args := make([]int, p.n)
	for i := range args {
		args[i] = i
	}
	results, err := sess.Map(ctx, square, args)
	if err != nil {
		return "", err
	}
	for i, r := range results {
		if r.(int) != i*i {
			return "", fmt.Errorf("square(%d): got %v", i, r)
		}
	}
	return fmt.Sprint(results), nil
}

var add = parmap.Func(func(x, y int) int { return x + y })

// adds maps add over the pairs (i, i+1).
func adds(ctx context.Context, sess *exec.Session, p params) (string, error) {
	args := make([][]int, p.n)
	for i := range args {
		args[i] = []int{i, i + 1}
	}
	results, err := sess.Map(ctx, add, args)
	if err != nil {
		return "", err
	}
	for i, r := range results {
		if r.(int) != 2*i+1 {
			return "", fmt.Errorf("add(%d, %d): got %v", i, i+1, r)
		}
	}
	return fmt.Sprint(results), nil
}

var chunkIndices = parmap.Func(func(indices []int) []int { return indices })

// chunks maps over the chunks of n indices and checks that every
// index is covered exactly once, by the chunk Partition assigns it.
func chunks(ctx context.Context, sess *exec.Session, p params) (string, error) {
	results, err := sess.Map(ctx, chunkIndices, parmap.Chunks(p.n, p.nchunk))
	if err != nil {
		return "", err
	}
	want := parmap.Partition(p.n, p.nchunk)
	if len(results) != len(want) {
		return "", fmt.Errorf("got %d chunks, want %d", len(results), len(want))
	}
	seen := make([]int32, p.n)
	err = traverse.Each(len(results), func(i int) error {
		got := results[i].([]int)
		if len(got) != len(want[i]) {
			return fmt.Errorf("chunk %d: got %d indices, want %d", i, len(got), len(want[i]))
		}
		for j, index := range got {
			if index != want[i][j] {
				return fmt.Errorf("chunk %d: index %d: got %d, want %d", i, j, index, want[i][j])
			}
			// Chunks are disjoint, so each element has a single writer.
			seen[index]++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for i, count := range seen {
		if count != 1 {
			return "", fmt.Errorf("index %d covered %d times", i, count)
		}
	}
	return fmt.Sprintf("%d indices in %d chunks", p.n, len(results)), nil
}
