// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grailbio/base/file"
)

// Result statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// A BlockResult is the per-block record emitted by a block-compute
// function: one artifact per block, not per job. Results are
// consumed (read and then deleted) by the aggregator once dispatch
// has completed. Re-invoking a job overwrites its results rather
// than appending, so retries are safe.
type BlockResult struct {
	Block    int           `json:"block"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	// Summary holds algorithm-specific per-block statistics, e.g.
	// component counts.
	Summary map[string]float64 `json:"summary,omitempty"`
}

// WriteBlockResult writes the result artifact to path, overwriting
// any previous one.
func WriteBlockResult(ctx context.Context, path string, result BlockResult) error {
	p, err := json.Marshal(result)
	if err != nil {
		return err
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err = f.Writer(ctx).Write(p); err != nil {
		_ = f.Close(ctx)
		return err
	}
	return f.Close(ctx)
}

// ReadBlockResult reads a result artifact written by WriteBlockResult.
func ReadBlockResult(ctx context.Context, path string) (BlockResult, error) {
	var result BlockResult
	f, err := file.Open(ctx, path)
	if err != nil {
		return result, err
	}
	defer f.Close(ctx)
	err = json.NewDecoder(f.Reader(ctx)).Decode(&result)
	return result, err
}
