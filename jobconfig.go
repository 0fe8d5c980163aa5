// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

import (
	"context"
	"encoding/json"

	"github.com/grailbio/base/file"
)

// A JobConfig is the unit handed to a dispatched job: the shared
// algorithm parameters of its task together with the job's assigned
// block ids and the blocking over which those ids are interpreted.
// Job configs are serialized deterministically, so re-running the
// partitioner with identical inputs produces byte-identical
// artifacts and a failed dispatch can be retried without
// re-partitioning.
type JobConfig struct {
	// Task is the name of the task this job belongs to; it prefixes
	// all of the task's artifacts in the run directory.
	Task string `json:"task"`
	// Func names the registered block-compute function to invoke.
	Func string `json:"func"`
	// Shape and BlockShape define the blocking from which the
	// job's block ids derive their bounding boxes.
	Shape      []int `json:"shape"`
	BlockShape []int `json:"block_shape"`
	// Params holds the task's algorithm parameters, opaque to the
	// orchestration engine.
	Params json.RawMessage `json:"params,omitempty"`
	// Blocks is the list of block ids owned by this job.
	Blocks []int `json:"blocks"`
}

// WriteJobConfig serializes the config to the given path, overwriting
// any previous artifact.
func WriteJobConfig(ctx context.Context, path string, config JobConfig) error {
	p, err := json.Marshal(config)
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

// ReadJobConfig reads a job config artifact written by WriteJobConfig.
func ReadJobConfig(ctx context.Context, path string) (JobConfig, error) {
	var config JobConfig
	f, err := file.Open(ctx, path)
	if err != nil {
		return config, err
	}
	defer f.Close(ctx)
	err = json.NewDecoder(f.Reader(ctx)).Decode(&config)
	return config, err
}
