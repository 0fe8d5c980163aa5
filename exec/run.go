// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/rs/xid"
	"github.com/spaolacci/murmur3"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/sched"
	"github.com/voxelbio/blockflow/store"
)

// Mode selects the dispatch variant of a run.
type Mode int

const (
	// Local runs jobs in-process on a bounded worker pool.
	Local Mode = iota
	// Cluster submits jobs to an external batch scheduler.
	Cluster
)

func (m Mode) String() string {
	switch m {
	case Local:
		return "local"
	case Cluster:
		return "cluster"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// A RunContext carries the state of one pipeline run: the working
// directory holding all per-run artifacts, the storage handle, the
// dispatch configuration, and bookkeeping for temporary artifacts.
// It is created when a workflow is built, passed by reference through
// the task chain, and torn down after terminal success; after a
// failure its artifacts are left intact for post-mortem inspection.
type RunContext struct {
	// ID uniquely identifies this run; it is part of the job name
	// tags submitted to the cluster scheduler.
	ID string
	// Dir is the run's working directory; it may be any grailfile
	// URL.
	Dir string
	// MaxJobs is the default per-task job cap.
	MaxJobs int
	// Store is the storage collaborator tasks operate on.
	Store store.Store
	// StorePath is the path workers use to open the store; it is
	// required in cluster mode, where workers run out of process.
	StorePath string
	// Scheduler is the cluster scheduler; it is required in cluster
	// mode.
	Scheduler sched.Scheduler
	// WorkerCommand is the argv prefix of the worker binary invoked
	// by cluster jobs.
	WorkerCommand []string
	// Mode is the dispatch variant.
	Mode Mode
	// Retry is the dispatch retry policy.
	Retry Retry
	// Status is an optional status object to which run progress is
	// reported.
	Status *status.Status

	executor Executor

	mu        sync.Mutex
	artifacts []string
}

// A RunOption represents a run configuration parameter value.
type RunOption func(*RunContext)

// WithStore configures the run with the given storage handle.
func WithStore(s store.Store) RunOption {
	return func(rc *RunContext) { rc.Store = s }
}

// WithScheduler configures the run for cluster dispatch: jobs are
// submitted to scheduler as invocations of the worker command, and
// workers open the store at storePath.
func WithScheduler(scheduler sched.Scheduler, workerCommand []string, storePath string) RunOption {
	return func(rc *RunContext) {
		rc.Mode = Cluster
		rc.Scheduler = scheduler
		rc.WorkerCommand = workerCommand
		rc.StorePath = storePath
	}
}

// MaxJobs configures the run's default per-task job cap.
func MaxJobs(n int) RunOption {
	return func(rc *RunContext) { rc.MaxJobs = n }
}

// WithRetry configures the run's dispatch retry policy.
func WithRetry(r Retry) RunOption {
	return func(rc *RunContext) { rc.Retry = r }
}

// WithStatus configures the run with a status object to which task
// progress is reported.
func WithStatus(s *status.Status) RunOption {
	return func(rc *RunContext) { rc.Status = s }
}

// NewRun returns a run context rooted at the given working
// directory. By default runs dispatch locally with a job cap of 1
// and no retries.
func NewRun(dir string, opts ...RunOption) (*RunContext, error) {
	rc := &RunContext{
		ID:      xid.New().String(),
		Dir:     dir,
		MaxJobs: 1,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.Store == nil {
		return nil, errors.E(errors.Invalid, "exec.NewRun: no store configured")
	}
	switch rc.Mode {
	case Local:
		rc.executor = newLocalExecutor(rc.MaxJobs)
	case Cluster:
		if rc.Scheduler == nil {
			return nil, errors.E(errors.Invalid, "exec.NewRun: cluster mode without scheduler")
		}
		if len(rc.WorkerCommand) == 0 {
			return nil, errors.E(errors.Invalid, "exec.NewRun: cluster mode without worker command")
		}
		rc.executor = newClusterExecutor()
	}
	return rc, nil
}

// Tag returns the scheduler job name tag of the given task within
// this run. Tags embed the run id and a short hash of the task name
// so that concurrent runs on a shared queue never collide.
func (rc *RunContext) Tag(task *Task) string {
	return fmt.Sprintf("bf-%s-%08x", rc.ID, murmur3.Sum32([]byte(task.Name)))
}

// JobConfigPath returns the job config artifact path for the named
// task and job.
func (rc *RunContext) JobConfigPath(task string, job int) string {
	return blockflow.JobConfigPath(rc.Dir, task, job)
}

// ResultPath returns the per-block result artifact path for the
// named task and block.
func (rc *RunContext) ResultPath(task string, block int) string {
	return blockflow.ResultPath(rc.Dir, task, block)
}

// record notes a temporary artifact for removal on Cleanup.
func (rc *RunContext) record(path string) {
	rc.mu.Lock()
	rc.artifacts = append(rc.artifacts, path)
	rc.mu.Unlock()
}

// Cleanup removes the run's temporary artifacts: job configs and
// cluster log files. Completion markers are outputs and are kept.
// Cleanup should be called only after terminal success; failed runs
// keep their artifacts for post-mortem inspection.
func (rc *RunContext) Cleanup(ctx context.Context) {
	rc.mu.Lock()
	artifacts := rc.artifacts
	rc.artifacts = nil
	rc.mu.Unlock()
	for _, path := range artifacts {
		if err := file.Remove(ctx, path); err != nil && !errors.Is(errors.NotExist, err) {
			log.Error.Printf("cleanup %s: %v", path, err)
		}
	}
}
