// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockops

import (
	"context"

	"github.com/voxelbio/blockflow"
)

type thresholdParams struct {
	// Threshold separates foreground from background: values
	// strictly greater are foreground.
	Threshold float64 `json:"threshold"`
	// Invert treats values below the threshold as foreground
	// instead, matching inverted boundary channels.
	Invert bool `json:"invert,omitempty"`
}

// thresholdComponents thresholds the input volume and labels the
// connected components of each block independently. The first input
// is the intensity volume; an optional second input is a mask, and
// voxels with a zero mask are always background. Labels are local to
// each block, starting at one; the per-block summary reports the
// component count.
func thresholdComponents(ctx context.Context, call blockflow.Call) error {
	return blockflow.ProcessBlocks(ctx, call,
		func(ctx context.Context, config blockflow.JobConfig, block blockflow.Block) (map[string]float64, error) {
			var params thresholdParams
			if err := unmarshalParams(config.Params, &params); err != nil {
				return nil, err
			}
			data, err := call.Store.ReadRegion(ctx, call.Inputs[0], block.Begin, block.End)
			if err != nil {
				return nil, err
			}
			foreground := make([]bool, len(data))
			for i, v := range data {
				if params.Invert {
					foreground[i] = float64(v) < params.Threshold
				} else {
					foreground[i] = float64(v) > params.Threshold
				}
			}
			if len(call.Inputs) > 1 {
				mask, err := call.Store.ReadRegion(ctx, call.Inputs[1], block.Begin, block.End)
				if err != nil {
					return nil, err
				}
				for i, m := range mask {
					if m == 0 {
						foreground[i] = false
					}
				}
			}
			labels, count := labelComponents(foreground, block.Shape())
			if err := call.Store.WriteRegion(ctx, call.Output, block.Begin, block.End, labels); err != nil {
				return nil, err
			}
			return map[string]float64{"n_components": float64(count)}, nil
		})
}

// labelComponents labels the connected components of the foreground
// under face connectivity, returning the label volume and the number
// of components. Labels are assigned densely starting at one;
// background stays zero.
func labelComponents(foreground []bool, shape []int) ([]uint64, int) {
	parent := make([]int, len(foreground))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	st := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = stride
		stride *= shape[i]
	}
	cur := make([]int, len(shape))
	idx := 0
	for {
		if foreground[idx] {
			for axis := range shape {
				if cur[axis] > 0 && foreground[idx-st[axis]] {
					union(idx-st[axis], idx)
				}
			}
		}
		if !next(cur, shape) {
			break
		}
		idx = flat(cur, shape)
	}

	labels := make([]uint64, len(foreground))
	assigned := make(map[int]uint64)
	for i, fg := range foreground {
		if !fg {
			continue
		}
		root := find(i)
		label, ok := assigned[root]
		if !ok {
			label = uint64(len(assigned) + 1)
			assigned[root] = label
		}
		labels[i] = label
	}
	return labels, len(assigned)
}
