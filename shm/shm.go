// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package shm provides float64 arrays backed by shared memory. An
// array is created by Zeros and may be mapped by any number of
// workers through its Region, which is a small, gob-encodable
// descriptor that can be passed as a parmap argument. Writes made
// through one mapping are visible through every other mapping of the
// same region, whether in the same process or in another process on
// the same host.
//
// Shared arrays provide no synchronization. Workers that write to
// the same array should write to disjoint indices.
package shm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

const float64Size = int(unsafe.Sizeof(float64(0)))

// A Region describes a shared memory segment holding a float64 array
// of the given shape, in row-major order.
type Region struct {
	// Path is the path of the file that backs the segment.
	Path string
	// Shape is the array's shape.
	Shape []int
}

// Len returns the number of elements in the region. The region's
// shape must be valid: Zeros and Open reject shapes whose size
// overflows.
func (r Region) Len() int {
	n := 1
	for _, dim := range r.Shape {
		n *= dim
	}
	return n
}

// String returns a description of the region.
func (r Region) String() string {
	return fmt.Sprintf("%s%v", r.Path, r.Shape)
}

// An Array is a mapping of a shared float64 array. Arrays are not
// safe for concurrent writes to the same index.
type Array struct {
	region Region
	file   *os.File
	mem    []byte
	data   []float64
}

// Dir returns the directory in which Zeros creates shared segments:
// /dev/shm if it is available, and the system's temporary directory
// otherwise.
func Dir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Zeros creates a new shared array of the provided shape, with every
// element set to 0, in the directory returned by Dir. The caller
// should call Remove when the array is no longer needed by any worker.
func Zeros(shape ...int) (*Array, error) {
	return ZerosIn(Dir(), shape...)
}

// ZerosIn is like Zeros, but creates the segment in directory dir.
func ZerosIn(dir string, shape ...int) (*Array, error) {
	if err := checkShape(shape); err != nil {
		return nil, errors.E("shm.Zeros", err)
	}
	region := Region{
		Path:  filepath.Join(dir, "parmap-"+uuid.NewString()),
		Shape: append([]int(nil), shape...),
	}
	f, err := os.OpenFile(region.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, errors.E("shm.Zeros", region.Path, err)
	}
	// Extending the file fills it with zeros.
	if err := f.Truncate(int64(region.Len() * float64Size)); err != nil {
		f.Close()
		os.Remove(region.Path)
		return nil, errors.E("shm.Zeros", region.Path, err)
	}
	a, err := mapFile(f, region)
	if err != nil {
		os.Remove(region.Path)
		return nil, err
	}
	log.Debug.Printf("shm: created %s", region)
	return a, nil
}

// checkShape returns an errors.Invalid error if shape has a negative
// dimension, or if the size in bytes of an array of that shape
// overflows an int.
func checkShape(shape []int) error {
	empty := false
	for _, dim := range shape {
		if dim < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("negative dimension in shape %v", shape))
		}
		empty = empty || dim == 0
	}
	if empty {
		return nil
	}
	n := float64Size
	for _, dim := range shape {
		if n > math.MaxInt/dim {
			return errors.E(errors.Invalid, fmt.Sprintf("shape %v is too large", shape))
		}
		n *= dim
	}
	return nil
}

// Open maps an existing shared array described by region.
func Open(region Region) (*Array, error) {
	if err := checkShape(region.Shape); err != nil {
		return nil, errors.E("shm.Open", err)
	}
	f, err := os.OpenFile(region.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.E(errors.NotExist, "shm.Open", region.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.E("shm.Open", region.Path, err)
	}
	if want := int64(region.Len() * float64Size); info.Size() != want {
		f.Close()
		return nil, errors.E(errors.Invalid, "shm.Open",
			fmt.Sprintf("region %s: segment is %d bytes, want %d", region, info.Size(), want))
	}
	return mapFile(f, region)
}

func mapFile(f *os.File, region Region) (*Array, error) {
	a := &Array{region: region, file: f}
	size := region.Len() * float64Size
	if size == 0 {
		return a, nil
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.E("shm: mmap", region.Path, err)
	}
	a.mem = mem
	a.data = unsafe.Slice((*float64)(unsafe.Pointer(&mem[0])), region.Len())
	return a, nil
}

// Region returns the descriptor of the array's shared segment.
func (a *Array) Region() Region {
	return a.region
}

// Shape returns the array's shape.
func (a *Array) Shape() []int {
	return a.region.Shape
}

// Len returns the number of elements in the array.
func (a *Array) Len() int {
	return len(a.data)
}

// Data returns the array's elements in row-major order. The returned
// slice aliases the shared segment and is valid until Close.
func (a *Array) Data() []float64 {
	return a.data
}

// At returns the element at the provided index, which must have one
// coordinate per dimension.
func (a *Array) At(index ...int) float64 {
	return a.data[a.offset(index)]
}

// Set sets the element at the provided index to value.
func (a *Array) Set(value float64, index ...int) {
	a.data[a.offset(index)] = value
}

func (a *Array) offset(index []int) int {
	shape := a.region.Shape
	if len(index) != len(shape) {
		panic(fmt.Sprintf("shm: index %v has %d coordinates, array has %d dimensions", index, len(index), len(shape)))
	}
	var off int
	for i, x := range index {
		if x < 0 || x >= shape[i] {
			panic(fmt.Sprintf("shm: index %v out of range for shape %v", index, shape))
		}
		off = off*shape[i] + x
	}
	return off
}

// Reset sets every element of the array to 0.
func (a *Array) Reset() {
	clear(a.data)
}

// Close unmaps the array. The shared segment remains available to
// other mappings.
func (a *Array) Close() error {
	if a.file == nil {
		return nil
	}
	var err error
	if a.mem != nil {
		err = unix.Munmap(a.mem)
	}
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	a.file, a.mem, a.data = nil, nil, nil
	if err != nil {
		return errors.E("shm.Close", a.region.Path, err)
	}
	return nil
}

// Remove closes the array and removes its shared segment. Existing
// mappings in other workers remain valid until they are closed.
func (a *Array) Remove() error {
	err := a.Close()
	if rerr := os.Remove(a.region.Path); err == nil && rerr != nil {
		err = errors.E("shm.Remove", a.region.Path, rerr)
	}
	return err
}
