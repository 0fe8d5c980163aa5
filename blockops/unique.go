// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockops

import (
	"context"

	"github.com/voxelbio/blockflow"
)

// uniqueLabels counts the distinct nonzero labels of each block of
// the input volume. The output is a one dimensional dataset with one
// entry per block id holding that block's unique-label count; the
// per-block summary carries the count and the largest label seen, so
// aggregated reports can derive a volume-wide label bound.
func uniqueLabels(ctx context.Context, call blockflow.Call) error {
	return blockflow.ProcessBlocks(ctx, call,
		func(ctx context.Context, config blockflow.JobConfig, block blockflow.Block) (map[string]float64, error) {
			data, err := call.Store.ReadRegion(ctx, call.Inputs[0], block.Begin, block.End)
			if err != nil {
				return nil, err
			}
			seen := make(map[uint64]bool)
			var max uint64
			for _, v := range data {
				if v == 0 {
					continue
				}
				seen[v] = true
				if v > max {
					max = v
				}
			}
			err = call.Store.WriteRegion(ctx, call.Output,
				[]int{block.ID}, []int{block.ID + 1}, []uint64{uint64(len(seen))})
			if err != nil {
				return nil, err
			}
			return map[string]float64{
				"n_unique": float64(len(seen)),
				"max_id":   float64(max),
			}, nil
		})
}
