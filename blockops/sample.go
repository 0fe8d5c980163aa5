// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockops

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/voxelbio/blockflow"
)

type sampleParams struct {
	// Factor is the per-axis scale factor between the input and the
	// output volume.
	Factor []int `json:"factor"`
}

func (p *sampleParams) factor(ndim int) ([]int, error) {
	if len(p.Factor) == 0 {
		return nil, errors.E(errors.Invalid, "sampling without a factor")
	}
	if len(p.Factor) != ndim {
		return nil, errors.E(errors.Invalid, "factor rank does not match the volume")
	}
	for _, f := range p.Factor {
		if f < 1 {
			return nil, errors.E(errors.Invalid, "non-positive sampling factor")
		}
	}
	return p.Factor, nil
}

// downsample reduces the input volume by the per-axis factor given in
// the params, picking the first input voxel of each factor-sized
// cell. Blocks cover the output volume; each block reads the
// corresponding factor-scaled input region.
func downsample(ctx context.Context, call blockflow.Call) error {
	return blockflow.ProcessBlocks(ctx, call,
		func(ctx context.Context, config blockflow.JobConfig, block blockflow.Block) (map[string]float64, error) {
			var params sampleParams
			if err := unmarshalParams(config.Params, &params); err != nil {
				return nil, err
			}
			factor, err := params.factor(len(block.Begin))
			if err != nil {
				return nil, err
			}
			dataset, err := call.Store.Dataset(ctx, call.Inputs[0])
			if err != nil {
				return nil, err
			}
			inBegin := make([]int, len(block.Begin))
			inEnd := make([]int, len(block.End))
			for i := range block.Begin {
				inBegin[i] = block.Begin[i] * factor[i]
				inEnd[i] = block.End[i] * factor[i]
				// The last output cell of an axis may be a partial
				// cell when the input extent is not a multiple of
				// the factor.
				if inEnd[i] > dataset.Shape[i] {
					inEnd[i] = dataset.Shape[i]
				}
			}
			in, err := call.Store.ReadRegion(ctx, call.Inputs[0], inBegin, inEnd)
			if err != nil {
				return nil, err
			}
			inShape := boxShape(inBegin, inEnd)
			outShape := block.Shape()
			out := make([]uint64, block.Size())
			cur := make([]int, len(outShape))
			src := make([]int, len(outShape))
			for i := 0; ; i++ {
				for axis := range cur {
					src[axis] = cur[axis] * factor[axis]
				}
				out[i] = in[flat(src, inShape)]
				if !next(cur, outShape) {
					break
				}
			}
			if err := call.Store.WriteRegion(ctx, call.Output, block.Begin, block.End, out); err != nil {
				return nil, err
			}
			return nil, nil
		})
}

// upsample enlarges the input volume by the per-axis factor given in
// the params, repeating each input voxel over its factor-sized cell.
// Blocks cover the output volume; each block reads the corresponding
// factor-divided input region.
func upsample(ctx context.Context, call blockflow.Call) error {
	return blockflow.ProcessBlocks(ctx, call,
		func(ctx context.Context, config blockflow.JobConfig, block blockflow.Block) (map[string]float64, error) {
			var params sampleParams
			if err := unmarshalParams(config.Params, &params); err != nil {
				return nil, err
			}
			factor, err := params.factor(len(block.Begin))
			if err != nil {
				return nil, err
			}
			inBegin := make([]int, len(block.Begin))
			inEnd := make([]int, len(block.End))
			for i := range block.Begin {
				inBegin[i] = block.Begin[i] / factor[i]
				inEnd[i] = (block.End[i] + factor[i] - 1) / factor[i]
			}
			in, err := call.Store.ReadRegion(ctx, call.Inputs[0], inBegin, inEnd)
			if err != nil {
				return nil, err
			}
			inShape := boxShape(inBegin, inEnd)
			outShape := block.Shape()
			out := make([]uint64, block.Size())
			cur := make([]int, len(outShape))
			src := make([]int, len(outShape))
			for i := 0; ; i++ {
				for axis := range cur {
					src[axis] = (block.Begin[axis]+cur[axis])/factor[axis] - inBegin[axis]
				}
				out[i] = in[flat(src, inShape)]
				if !next(cur, outShape) {
					break
				}
			}
			if err := call.Store.WriteRegion(ctx, call.Output, block.Begin, block.End, out); err != nil {
				return nil, err
			}
			return nil, nil
		})
}

func boxShape(begin, end []int) []int {
	shape := make([]int, len(begin))
	for i := range begin {
		shape[i] = end[i] - begin[i]
	}
	return shape
}
