// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blockops provides reference block-compute functions for
// common volume pipeline stages: thresholding with per-block
// connected components, down- and upsampling between scales, and
// per-block unique-label extraction. Each function follows the
// collaborator contract: it reads its assigned block ids from its
// job config, writes to its output region, and emits one result
// artifact per block. All functions are registered under the names
// exported by this package.
package blockops

import (
	"encoding/json"

	"github.com/voxelbio/blockflow"
)

// Registered function names.
const (
	ThresholdComponents = "threshold-components"
	Downsample          = "downsample"
	Upsample            = "upsample"
	UniqueLabels        = "unique-labels"
)

func init() {
	blockflow.RegisterFunc(ThresholdComponents, thresholdComponents)
	blockflow.RegisterFunc(Downsample, downsample)
	blockflow.RegisterFunc(Upsample, upsample)
	blockflow.RegisterFunc(UniqueLabels, uniqueLabels)
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// next advances an odometer over the row-major coordinates of shape,
// returning false after the last coordinate.
func next(cur, shape []int) bool {
	for i := len(cur) - 1; i >= 0; i-- {
		cur[i]++
		if cur[i] < shape[i] {
			return true
		}
		cur[i] = 0
	}
	return false
}

// flat returns the row-major flat index of coordinate c in shape.
func flat(c, shape []int) int {
	idx := 0
	for i := range c {
		idx = idx*shape[i] + c[i]
	}
	return idx
}
