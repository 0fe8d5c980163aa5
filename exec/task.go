// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements the runtime of blockflow pipelines: tasks,
// their dependency evaluation, and the dispatch of block-parallel
// jobs to a local worker pool or to an external cluster scheduler.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/store"
)

// TaskState represents the runtime state of a Task. TaskState values
// are defined so that their magnitudes correspond with task
// progression.
type TaskState int

const (
	// TaskInit is the initial state of a task.
	TaskInit TaskState = iota
	// TaskWaiting indicates that a task has been scheduled for
	// execution but its dependencies have not yet completed.
	TaskWaiting
	// TaskRunning is the state of a task that's currently being run.
	TaskRunning
	// TaskOk indicates that a task has successfully completed; its
	// completion marker is available to dependent tasks.
	TaskOk
	// TaskErr indicates that the task experienced a failure while
	// running.
	TaskErr

	maxState
)

var states = [...]string{
	TaskInit:    "INIT",
	TaskWaiting: "WAITING",
	TaskRunning: "RUNNING",
	TaskOk:      "OK",
	TaskErr:     "ERROR",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	return states[s]
}

// A Task is one pipeline stage: it owns a full blocking, dispatch and
// aggregation cycle over one target volume, and depends on zero or
// more predecessor tasks. A task runs exactly once; its terminal
// state is either complete, with a persisted completion marker that
// dependent tasks consume as their dependency signal, or failed, in
// which case no marker is written and dependents never run.
//
// Tasks coordinate concurrent evaluation through an embedded mutex
// and a context-aware conditional broadcast, so independent
// dependency sub-chains may be evaluated concurrently and joined.
type Task struct {
	// Name identifies the task uniquely within a run; it prefixes
	// all of the task's artifacts in the run directory.
	Name string
	// Func names the registered block-compute function this task
	// dispatches.
	Func string
	// Inputs and Output are the dataset keys the compute function
	// reads and writes.
	Inputs []string
	Output string
	// Shape is the extent of the volume being partitioned. If nil,
	// it is resolved from the first input dataset at run time.
	Shape []int
	// OutputShape is the extent of the output dataset; it defaults
	// to Shape.
	OutputShape []int
	// BlockShape is the unit of partitioning.
	BlockShape []int
	// ChunkShape is the chunk shape of the created output dataset;
	// it defaults to BlockShape.
	ChunkShape []int
	// Dtype and Compression describe the created output dataset.
	Dtype       string
	Compression string
	// Params holds the stage's algorithm configuration; it is
	// serialized into every job config.
	Params map[string]interface{}
	// MaxJobs caps the number of dispatched jobs; it defaults to the
	// run's job cap.
	MaxJobs int
	// TimeBudget is the per-job time budget requested from the
	// cluster scheduler.
	TimeBudget time.Duration
	// Deps are the tasks that must complete before this one runs.
	Deps []*Task
	// Run, if set, overrides the block cycle entirely: the task runs
	// the function and writes an empty completion marker. This is
	// used for plain stages such as metadata writers.
	Run func(ctx context.Context, rc *RunContext) error

	// Status is the status object to which task progress is
	// reported; it may be nil.
	Status *status.Task

	sync.Mutex
	waitc chan struct{}

	// state is the task's state, protected by the task's lock; state
	// changes are broadcast on waitc.
	state TaskState
	// err is defined when state == TaskErr.
	err error
}

// String returns a short, human-readable string describing the
// task's state.
func (t *Task) String() string {
	s := fmt.Sprintf("task %s %s", t.Name, t.state)
	if t.err != nil {
		s += ": " + t.err.Error()
	}
	return s
}

// Set sets the task's state to the provided state and notifies any
// waiters.
func (t *Task) Set(state TaskState) {
	t.Lock()
	t.state = state
	t.Broadcast()
	t.Unlock()
}

// Error sets the task's state to TaskErr and its error to the
// provided error. Waiters are notified.
func (t *Task) Error(err error) {
	t.Lock()
	t.state = TaskErr
	t.err = err
	t.Broadcast()
	t.Unlock()
}

// Err returns the task's error, if its state is TaskErr.
func (t *Task) Err() error {
	t.Lock()
	defer t.Unlock()
	if t.state == TaskErr {
		return t.err
	}
	return nil
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.Lock()
	defer t.Unlock()
	return t.state
}

// Broadcast notifies waiters of a state change. Broadcast must only
// be called while the task's lock is held.
func (t *Task) Broadcast() {
	if t.waitc != nil {
		close(t.waitc)
		t.waitc = nil
	}
}

// WaitState returns when the task's state is at least the provided
// state, or else when the context is done.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.Lock()
	defer t.Unlock()
	for t.state < state {
		if err := t.wait(ctx); err != nil {
			return t.state, err
		}
	}
	return t.state, nil
}

// wait returns after the next broadcast, or if the context is done.
// The task's lock must be held.
func (t *Task) wait(ctx context.Context) error {
	if t.waitc == nil {
		t.waitc = make(chan struct{})
	}
	waitc := t.waitc
	t.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	t.Lock()
	return err
}

// Done reports whether the task's completion marker exists in the
// run directory. Markers persist across runs, so a re-invoked
// pipeline skips stages that already completed.
func (t *Task) Done(ctx context.Context, rc *RunContext) bool {
	_, err := ReadMarker(ctx, rc.Dir, t.Name)
	return err == nil
}

// run executes the task's blocking/dispatch/aggregation cycle. On
// success the task's completion marker has been written; any error
// leaves no marker behind.
func (t *Task) run(ctx context.Context, rc *RunContext) error {
	if t.Done(ctx, rc) {
		log.Printf("%s: marker present, skipping", t.Name)
		return nil
	}
	if t.Run != nil {
		if err := t.Run(ctx, rc); err != nil {
			return err
		}
		return writeMarker(ctx, rc, t, nil, 0)
	}

	shape := t.Shape
	if shape == nil {
		d, err := rc.Store.Dataset(ctx, t.Inputs[0])
		if err != nil {
			return err
		}
		shape = d.Shape
	}
	blocking, err := blockflow.NewBlocking(shape, t.BlockShape)
	if err != nil {
		return err
	}

	// Creating or resizing the output dataset is a one-time metadata
	// operation; it must happen before dispatch, never concurrently
	// with workers.
	if t.Output != "" {
		outShape := t.OutputShape
		if outShape == nil {
			outShape = shape
		}
		chunks := t.ChunkShape
		if chunks == nil {
			chunks = t.BlockShape
		}
		if err := rc.Store.CreateDataset(ctx, t.Output, datasetOf(t, outShape, chunks)); err != nil {
			return err
		}
	}

	n := blocking.N()
	if n == 0 {
		// No work: the task completes trivially with an empty result
		// set.
		return writeMarker(ctx, rc, t, nil, 0)
	}
	njobs, err := t.prepare(ctx, rc, shape, n)
	if err != nil {
		return err
	}
	t.statusf("dispatching %d jobs over %d blocks", njobs, n)
	err = rc.Retry.Do(ctx, func(ctx context.Context) error {
		return rc.executor.Dispatch(ctx, rc, t, njobs)
	})
	if err != nil {
		return err
	}
	t.statusf("aggregating %d block results", n)
	return t.aggregate(ctx, rc, n)
}

// prepare partitions the blocking into job configs and serializes
// them into the run directory. Preparation is idempotent: re-running
// with the same inputs produces byte-identical artifacts, so a
// failed dispatch can be retried without re-partitioning.
func (t *Task) prepare(ctx context.Context, rc *RunContext, shape []int, nblocks int) (int, error) {
	maxJobs := t.MaxJobs
	if maxJobs <= 0 {
		maxJobs = rc.MaxJobs
	}
	params, err := json.Marshal(t.Params)
	if err != nil {
		return 0, err
	}
	assignment := blockflow.Assign(nblocks, maxJobs)
	for job, blocks := range assignment {
		config := blockflow.JobConfig{
			Task:       t.Name,
			Func:       t.Func,
			Shape:      shape,
			BlockShape: t.BlockShape,
			Params:     params,
			Blocks:     blocks,
		}
		path := rc.JobConfigPath(t.Name, job)
		if err := blockflow.WriteJobConfig(ctx, path, config); err != nil {
			return 0, err
		}
		rc.record(path)
	}
	return len(assignment), nil
}

func (t *Task) statusf(format string, args ...interface{}) {
	if t.Status != nil {
		t.Status.Printf(format, args...)
	}
	log.Debug.Printf(t.Name+": "+format, args...)
}

func datasetOf(t *Task, shape, chunks []int) (d store.Dataset) {
	d.Shape = shape
	d.Chunks = chunks
	d.Dtype = t.Dtype
	if d.Dtype == "" {
		d.Dtype = "uint64"
	}
	d.Compression = t.Compression
	return d
}

// validate checks the task's static configuration before evaluation.
func (t *Task) validate() error {
	if t.Name == "" {
		return errors.E(errors.Invalid, "exec: task with empty name")
	}
	if t.Run == nil {
		if t.Func == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("exec: task %s names no function", t.Name))
		}
		if len(t.BlockShape) == 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("exec: task %s has no block shape", t.Name))
		}
		if t.Shape == nil && len(t.Inputs) == 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("exec: task %s has neither shape nor inputs", t.Name))
		}
	}
	return nil
}
