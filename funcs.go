// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/voxelbio/blockflow/store"
)

// A Call carries the arguments of one job invocation of a
// block-compute function, mirroring the worker command line: the
// storage handle, the input and output dataset keys, the job config
// artifact, the job id, and the run directory into which per-block
// results are written.
type Call struct {
	Store  store.Store
	Inputs []string
	Output string
	Config string
	Job    int
	Dir    string
}

// A Func is a block-compute collaborator: it reads its assigned block
// ids from the job config, processes each block, and emits one result
// artifact per block. Funcs must tolerate being invoked more than
// once for the same job id by overwriting rather than appending.
type Func func(ctx context.Context, call Call) error

var (
	funcsMu sync.Mutex
	funcs   = make(map[string]Func)
)

// RegisterFunc registers a block-compute function under the given
// name, making it available for dispatch by name from job configs.
// RegisterFunc panics if the name is already taken.
func RegisterFunc(name string, fn Func) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if _, ok := funcs[name]; ok {
		panic(fmt.Sprintf("blockflow.RegisterFunc: duplicate function %q", name))
	}
	funcs[name] = fn
}

// LookupFunc returns the function registered under name.
func LookupFunc(name string) (Func, error) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	fn, ok := funcs[name]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("blockflow.LookupFunc: no function %q", name))
	}
	return fn, nil
}

// RunJob executes one job: it reads the job config at call.Config,
// looks up the named function, and invokes it. RunJob is the common
// entry point of the local worker pool and the cluster worker
// command line.
func RunJob(ctx context.Context, call Call) error {
	config, err := ReadJobConfig(ctx, call.Config)
	if err != nil {
		return err
	}
	fn, err := LookupFunc(config.Func)
	if err != nil {
		return err
	}
	return fn(ctx, call)
}

// A BlockFunc processes a single block, returning its summary
// statistics.
type BlockFunc func(ctx context.Context, config JobConfig, block Block) (map[string]float64, error)

// ProcessBlocks implements the per-job block loop shared by
// block-compute functions: it loads the job config, re-derives the
// blocking, and applies run to each assigned block in order, timing
// each application and writing one result artifact per block. A
// failing block stops the job; results written for earlier blocks
// remain in place.
func ProcessBlocks(ctx context.Context, call Call, run BlockFunc) error {
	config, err := ReadJobConfig(ctx, call.Config)
	if err != nil {
		return err
	}
	blocking, err := NewBlocking(config.Shape, config.BlockShape)
	if err != nil {
		return err
	}
	for _, id := range config.Blocks {
		block, err := blocking.Block(id)
		if err != nil {
			return err
		}
		start := time.Now()
		summary, err := run(ctx, config, block)
		if err != nil {
			return fmt.Errorf("%s: job %d: block %d: %v", config.Task, call.Job, id, err)
		}
		result := BlockResult{
			Block:    id,
			Status:   StatusOK,
			Duration: time.Since(start),
			Summary:  summary,
		}
		if err := WriteBlockResult(ctx, ResultPath(call.Dir, config.Task, id), result); err != nil {
			return err
		}
		log.Debug.Printf("%s: job %d: processed block %d in %s", config.Task, call.Job, id, result.Duration)
	}
	return nil
}
