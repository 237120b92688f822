// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package parmap

import (
	"fmt"
	"reflect"
)

// Partition splits the index range [0, nitems) into nchunks disjoint
// chunks. Chunk k contains the indices i for which i%nchunks == k, in
// ascending order, so that chunk sizes differ by at most one. Chunks
// are empty when nchunks > nitems. Partition panics if nchunks <= 0.
func Partition(nitems, nchunks int) [][]int {
	if nchunks <= 0 {
		panic(fmt.Sprintf("parmap.Partition: nchunks %d <= 0", nchunks))
	}
	if nitems < 0 {
		panic(fmt.Sprintf("parmap.Partition: nitems %d < 0", nitems))
	}
	chunks := make([][]int, nchunks)
	for k := range chunks {
		chunks[k] = make([]int, 0, chunkSize(nitems, nchunks, k))
	}
	for i := 0; i < nitems; i++ {
		chunks[i%nchunks] = append(chunks[i%nchunks], i)
	}
	return chunks
}

// Chunkify splits the slice items into nchunks slices, striding
// through items in the manner of Partition. If items is a []T,
// Chunkify returns a [][]T. The returned chunks do not share
// storage with items. Chunkify panics if items is not a slice or
// array, or if nchunks <= 0.
func Chunkify(items interface{}, nchunks int) interface{} {
	v := reflect.ValueOf(items)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		panic(fmt.Sprintf("parmap.Chunkify: items of type %T is not a slice", items))
	}
	var (
		typ    = reflect.SliceOf(v.Type().Elem())
		chunks = reflect.MakeSlice(reflect.SliceOf(typ), nchunks, nchunks)
	)
	for k, indices := range Partition(v.Len(), nchunks) {
		chunk := reflect.MakeSlice(typ, len(indices), len(indices))
		for j, i := range indices {
			chunk.Index(j).Set(v.Index(i))
		}
		chunks.Index(k).Set(chunk)
	}
	return chunks.Interface()
}

// Chunks partitions the index range [0, nindices) into nchunks
// argument groups that can be passed directly to Map. Each group is
// a scalar []int holding the chunk's indices, so that Map spawns
// exactly nchunks workers, each responsible for a whole chunk.
func Chunks(nindices, nchunks int) []Arg {
	chunks := Partition(nindices, nchunks)
	args := make([]Arg, len(chunks))
	for i, chunk := range chunks {
		args[i] = Scalar(chunk)
	}
	return args
}

// ChunkSize returns the number of indices in chunk k of
// Partition(nitems, nchunks).
func chunkSize(nitems, nchunks, k int) int {
	n := nitems / nchunks
	if k < nitems%nchunks {
		n++
	}
	return n
}
