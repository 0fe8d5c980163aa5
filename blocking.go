// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Block is an axis-aligned sub-region of a volume, identified by an
// integer id. Blocks are the unit of parallel work: a block-compute
// function processes one block at a time, reading and writing the
// half-open box [Begin, End). Blocks are never persisted; they are a
// pure function of (id, shape, block shape) and are recomputed
// wherever they are needed.
type Block struct {
	ID         int
	Begin, End []int
}

// Shape returns the extent of the block along each axis. Blocks at
// the volume boundary may be smaller than the blocking's block shape.
func (b Block) Shape() []int {
	shape := make([]int, len(b.Begin))
	for i := range shape {
		shape[i] = b.End[i] - b.Begin[i]
	}
	return shape
}

// Size returns the number of elements contained in the block.
func (b Block) Size() int {
	size := 1
	for i := range b.Begin {
		size *= b.End[i] - b.Begin[i]
	}
	return size
}

// OutOfRangeError is returned by Blocking.Block when the requested
// block id does not exist.
type OutOfRangeError struct {
	ID, N int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("block id %d out of range [0,%d)", e.ID, e.N)
}

// A Blocking deterministically partitions an N-dimensional volume
// into fixed-shape blocks. Block ids enumerate blocks in row-major
// order (the first axis varies slowest), so the same id always yields
// the same box for a given shape and block shape. This is what makes
// partially-completed runs resumable: a retry re-derives identical
// boxes.
//
// Blockings are immutable and safe for concurrent use.
type Blocking struct {
	shape, blockShape []int
	perAxis           []int
	n                 int
}

// NewBlocking returns the blocking of the volume shape by blockShape.
// Shapes must have equal arity and strictly positive extents.
func NewBlocking(shape, blockShape []int) (*Blocking, error) {
	if len(shape) == 0 {
		return nil, errors.E(errors.Invalid, "blockflow.NewBlocking: empty shape")
	}
	if len(shape) != len(blockShape) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("blockflow.NewBlocking: shape arity %d does not match block shape arity %d",
				len(shape), len(blockShape)))
	}
	b := &Blocking{
		shape:      append([]int{}, shape...),
		blockShape: append([]int{}, blockShape...),
		perAxis:    make([]int, len(shape)),
		n:          1,
	}
	for i := range shape {
		if shape[i] <= 0 || blockShape[i] <= 0 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("blockflow.NewBlocking: nonpositive extent on axis %d: shape %v, block shape %v",
					i, shape, blockShape))
		}
		b.perAxis[i] = (shape[i] + blockShape[i] - 1) / blockShape[i]
		b.n *= b.perAxis[i]
	}
	return b, nil
}

// N returns the total number of blocks.
func (b *Blocking) N() int { return b.n }

// Shape returns the volume shape.
func (b *Blocking) Shape() []int { return append([]int{}, b.shape...) }

// BlockShape returns the block shape.
func (b *Blocking) BlockShape() []int { return append([]int{}, b.blockShape...) }

// Block returns the block with the given id. The returned box is
// truncated to the volume shape at the boundary. Block returns an
// *OutOfRangeError if id is not in [0, N).
func (b *Blocking) Block(id int) (Block, error) {
	if id < 0 || id >= b.n {
		return Block{}, &OutOfRangeError{ID: id, N: b.n}
	}
	var (
		ndim  = len(b.shape)
		begin = make([]int, ndim)
		end   = make([]int, ndim)
		rem   = id
	)
	for i := ndim - 1; i >= 0; i-- {
		idx := rem % b.perAxis[i]
		rem /= b.perAxis[i]
		begin[i] = idx * b.blockShape[i]
		end[i] = begin[i] + b.blockShape[i]
		if end[i] > b.shape[i] {
			end[i] = b.shape[i]
		}
	}
	return Block{ID: id, Begin: begin, End: end}, nil
}
