// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store defines the chunked-array storage collaborator
// contract used by blockflow tasks and block-compute functions, and
// provides two implementations: an in-memory store for local runs
// and tests, and a directory-backed store whose datasets are laid
// out as one metadata record plus one compressed chunk file per
// chunk, suitable for concurrent region I/O from many workers on a
// shared filesystem.
//
// Concurrent workers may share a single store handle: reads and
// writes of disjoint, chunk-aligned regions require no locking for
// correctness. Creating a dataset is a one-time metadata operation
// and must happen before workers are dispatched.
package store

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Dataset describes a stored N-dimensional array: its full extent,
// its chunk shape, the declared element type, and the chunk
// compression codec. Region values are exchanged as []uint64
// regardless of the declared dtype; the dtype records how the values
// are to be interpreted.
type Dataset struct {
	Shape       []int  `json:"shape"`
	Chunks      []int  `json:"chunks"`
	Dtype       string `json:"dtype"`
	Compression string `json:"compression"`
}

// Store is a handle on an open chunked-array store.
type Store interface {
	// CreateDataset creates the dataset under key. It is idempotent:
	// creating an existing dataset with a matching shape is a no-op,
	// while a shape mismatch is an error.
	CreateDataset(ctx context.Context, key string, d Dataset) error

	// Dataset returns the metadata of the dataset under key. It
	// returns an error of kind errors.NotExist if there is none.
	Dataset(ctx context.Context, key string) (Dataset, error)

	// ReadRegion reads the half-open box [begin, end) of the dataset
	// under key, in row-major order. Regions never written read as
	// zeros.
	ReadRegion(ctx context.Context, key string, begin, end []int) ([]uint64, error)

	// WriteRegion writes data, in row-major order, to the half-open
	// box [begin, end) of the dataset under key.
	WriteRegion(ctx context.Context, key string, begin, end []int, data []uint64) error

	// Attr unmarshals the named attribute of key into v. It returns
	// an error of kind errors.NotExist if the attribute is not set.
	Attr(ctx context.Context, key, name string, v interface{}) error

	// SetAttr sets the named attribute of key to the JSON encoding
	// of v. Attributes may be set on keys that are not datasets,
	// e.g. dataset groups.
	SetAttr(ctx context.Context, key, name string, v interface{}) error
}

// checkRegion validates a region request against a dataset shape.
func checkRegion(d Dataset, begin, end []int) error {
	if len(begin) != len(d.Shape) || len(end) != len(d.Shape) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("store: region arity %d,%d does not match dataset arity %d", len(begin), len(end), len(d.Shape)))
	}
	for i := range begin {
		if begin[i] < 0 || end[i] > d.Shape[i] || begin[i] >= end[i] {
			return errors.E(errors.Invalid,
				fmt.Sprintf("store: invalid region [%v,%v) for shape %v", begin, end, d.Shape))
		}
	}
	return nil
}

// sameShape reports whether two shapes are equal.
func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
