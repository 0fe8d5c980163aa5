// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

// Row-major region arithmetic shared by the store implementations.
// A box is a half-open axis-aligned region [begin, end).

type box struct {
	begin, end []int
}

func (b box) shape() []int {
	shape := make([]int, len(b.begin))
	for i := range shape {
		shape[i] = b.end[i] - b.begin[i]
	}
	return shape
}

func (b box) size() int {
	size := 1
	for i := range b.begin {
		size *= b.end[i] - b.begin[i]
	}
	return size
}

// intersect returns the intersection of a and b and whether it is
// nonempty.
func intersect(a, b box) (box, bool) {
	r := box{begin: make([]int, len(a.begin)), end: make([]int, len(a.begin))}
	for i := range a.begin {
		r.begin[i] = a.begin[i]
		if b.begin[i] > r.begin[i] {
			r.begin[i] = b.begin[i]
		}
		r.end[i] = a.end[i]
		if b.end[i] < r.end[i] {
			r.end[i] = b.end[i]
		}
		if r.begin[i] >= r.end[i] {
			return box{}, false
		}
	}
	return r, true
}

// strides returns the row-major strides of shape (last axis fastest).
func strides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// offset returns the flat index of coordinate c within box b, given
// b's strides.
func offset(c []int, b box, st []int) int {
	var off int
	for i := range c {
		off += (c[i] - b.begin[i]) * st[i]
	}
	return off
}

// copyRegion copies region r from src (a flat array covering srcBox)
// to dst (a flat array covering dstBox). r must be contained in both
// boxes. Rows along the last axis are copied as contiguous runs.
func copyRegion(dst []uint64, dstBox box, src []uint64, srcBox box, r box) {
	var (
		ndim  = len(r.begin)
		dstSt = strides(dstBox.shape())
		srcSt = strides(srcBox.shape())
		run   = r.end[ndim-1] - r.begin[ndim-1]
		cur   = append([]int{}, r.begin...)
	)
	for {
		do := offset(cur, dstBox, dstSt)
		so := offset(cur, srcBox, srcSt)
		copy(dst[do:do+run], src[so:so+run])
		i := ndim - 2
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] < r.end[i] {
				break
			}
			cur[i] = r.begin[i]
		}
		if i < 0 {
			return
		}
	}
}

// chunkRange invokes fn for each chunk index tuple whose chunk
// overlaps the region [begin, end), passing the chunk's index tuple
// and its box clipped to shape.
func chunkRange(shape, chunks, begin, end []int, fn func(idx []int, cbox box) error) error {
	var (
		ndim = len(shape)
		lo   = make([]int, ndim)
		hi   = make([]int, ndim)
		cur  = make([]int, ndim)
	)
	for i := range shape {
		lo[i] = begin[i] / chunks[i]
		hi[i] = (end[i] - 1) / chunks[i]
		cur[i] = lo[i]
	}
	for {
		cbox := box{begin: make([]int, ndim), end: make([]int, ndim)}
		for i := range cur {
			cbox.begin[i] = cur[i] * chunks[i]
			cbox.end[i] = cbox.begin[i] + chunks[i]
			if cbox.end[i] > shape[i] {
				cbox.end[i] = shape[i]
			}
		}
		if err := fn(append([]int{}, cur...), cbox); err != nil {
			return err
		}
		i := ndim - 1
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] <= hi[i] {
				break
			}
			cur[i] = lo[i]
		}
		if i < 0 {
			return nil
		}
	}
}
