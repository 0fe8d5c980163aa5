// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/blockops"
	"github.com/voxelbio/blockflow/exec"
)

// MultiscaleConfig describes a scale pyramid to derive from a label
// volume. Scale i of the pyramid lives at the dataset key
// {Dataset}/s{i}; the upstream stage produces the origin scale, and
// the workflow fills in the remaining scales by up- and downsampling.
type MultiscaleConfig struct {
	// Dataset is the key prefix of the pyramid.
	Dataset string
	// Origin is the scale index produced by the upstream stage.
	Origin int
	// OriginShape is the volume extent at the origin scale.
	OriginShape []int
	// Factors[i] is the per-axis downsampling factor from scale i to
	// scale i+1; the pyramid has len(Factors)+1 scales.
	Factors [][]int
	// BlockShape partitions every stage of the workflow.
	BlockShape []int
	// Resolution is the per-axis voxel size at scale 0.
	Resolution []float64
	// Offset is the per-axis voxel offset of the volume at scale 0.
	Offset []int
}

// ScaleKey returns the dataset key of scale i.
func (c *MultiscaleConfig) ScaleKey(i int) string {
	return fmt.Sprintf("%s/s%d", c.Dataset, i)
}

// NumScales returns the number of scales in the pyramid.
func (c *MultiscaleConfig) NumScales() int {
	return len(c.Factors) + 1
}

// shapes returns the volume extent at every scale. Scales finer than
// the origin multiply by the intervening factors; coarser scales
// divide, rounding up so that boundary voxels survive.
func (c *MultiscaleConfig) shapes() [][]int {
	n := c.NumScales()
	ndim := len(c.OriginShape)
	shapes := make([][]int, n)
	shapes[c.Origin] = c.OriginShape
	for i := c.Origin - 1; i >= 0; i-- {
		shapes[i] = make([]int, ndim)
		for k := 0; k < ndim; k++ {
			shapes[i][k] = shapes[i+1][k] * c.Factors[i][k]
		}
	}
	for i := c.Origin + 1; i < n; i++ {
		shapes[i] = make([]int, ndim)
		for k := 0; k < ndim; k++ {
			f := c.Factors[i-1][k]
			shapes[i][k] = (shapes[i-1][k] + f - 1) / f
		}
	}
	return shapes
}

func (c *MultiscaleConfig) validate() error {
	if c.Dataset == "" {
		return errors.E(errors.Invalid, "pipeline: multiscale without a dataset")
	}
	if len(c.OriginShape) == 0 || len(c.BlockShape) != len(c.OriginShape) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("pipeline: multiscale shape %v does not match block shape %v", c.OriginShape, c.BlockShape))
	}
	if c.Origin < 0 || c.Origin >= c.NumScales() {
		return errors.E(errors.Invalid,
			fmt.Sprintf("pipeline: multiscale origin %d out of range [0,%d)", c.Origin, c.NumScales()))
	}
	for i, f := range c.Factors {
		if len(f) != len(c.OriginShape) {
			return errors.E(errors.Invalid,
				fmt.Sprintf("pipeline: multiscale factor %v of scale %d does not match shape %v", f, i, c.OriginShape))
		}
		for _, v := range f {
			if v < 1 {
				return errors.E(errors.Invalid,
					fmt.Sprintf("pipeline: non-positive multiscale factor %v of scale %d", f, i))
			}
		}
	}
	return nil
}

// Multiscale appends the multiscale label workflow to w: starting
// from the origin scale produced by dep, it upsamples toward scale 0
// and downsamples toward the coarsest scale, counts the unique labels
// of every block at every scale, and finally records the pyramid
// metadata as attributes of the dataset. It returns the terminal
// metadata task.
//
// The up and down chains share only dep, so both directions of the
// pyramid are filled concurrently. The unique counts form a single
// chain across scales, seeded by a join of both chain terminals, so
// the whole pyramid exists before any counting begins.
func Multiscale(w *Workflow, cfg MultiscaleConfig, dep *Task) (*Task, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var (
		n         = cfg.NumScales()
		shapes    = cfg.shapes()
		producers = make([]*Task, n)
	)
	producers[cfg.Origin] = dep
	for i := cfg.Origin - 1; i >= 0; i-- {
		producers[i] = w.After(&Task{
			Name:       fmt.Sprintf("upsample-s%d", i),
			Func:       blockops.Upsample,
			Inputs:     []string{cfg.ScaleKey(i + 1)},
			Output:     cfg.ScaleKey(i),
			Shape:      shapes[i],
			BlockShape: cfg.BlockShape,
			Params:     map[string]interface{}{"factor": cfg.Factors[i]},
		}, producers[i+1])
	}
	for i := cfg.Origin + 1; i < n; i++ {
		producers[i] = w.After(&Task{
			Name:       fmt.Sprintf("downsample-s%d", i),
			Func:       blockops.Downsample,
			Inputs:     []string{cfg.ScaleKey(i - 1)},
			Output:     cfg.ScaleKey(i),
			Shape:      shapes[i],
			BlockShape: cfg.BlockShape,
			Params:     map[string]interface{}{"factor": cfg.Factors[i-1]},
		}, producers[i-1])
	}

	prev := []*Task{producers[0]}
	if producers[n-1] != producers[0] {
		prev = append(prev, producers[n-1])
	}
	var last *Task
	for i := 0; i < n; i++ {
		blocking, err := blockflow.NewBlocking(shapes[i], cfg.BlockShape)
		if err != nil {
			return nil, err
		}
		counts := []int{blocking.N()}
		last = w.After(&Task{
			Name:        fmt.Sprintf("unique-s%d", i),
			Func:        blockops.UniqueLabels,
			Inputs:      []string{cfg.ScaleKey(i)},
			Output:      fmt.Sprintf("%s/unique/s%d", cfg.Dataset, i),
			Shape:       shapes[i],
			OutputShape: counts,
			ChunkShape:  counts,
			BlockShape:  cfg.BlockShape,
		}, prev...)
		prev = []*Task{last}
	}

	meta := &Task{
		Name: "multiscale-attributes",
		Run:  cfg.writeAttributes,
	}
	return w.After(meta, last), nil
}

// writeAttributes records the pyramid metadata consumed by viewers:
// the scale structure, the world coordinates of scale 0, and the
// largest label id of the origin volume.
func (c MultiscaleConfig) writeAttributes(ctx context.Context, rc *exec.RunContext) error {
	var maxID uint64
	err := rc.Store.Attr(ctx, c.ScaleKey(c.Origin), "maxId", &maxID)
	if err != nil && !errors.Is(errors.NotExist, err) {
		return err
	}
	for name, value := range map[string]interface{}{
		"multiScale":          true,
		"downsamplingFactors": c.Factors,
		"resolution":          c.Resolution,
		"offset":              c.Offset,
		"maxId":               maxID,
	} {
		if err := rc.Store.SetAttr(ctx, c.Dataset, name, value); err != nil {
			return err
		}
	}
	return nil
}
