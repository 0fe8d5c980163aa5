// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sched models a cluster batch scheduler through the narrow
// contract the orchestration engine needs: submit a job under a
// recognizable name, and count how many jobs with a given name
// prefix are still running or pending. Nothing else is assumed of
// the scheduler; ordering and resource isolation are its business.
package sched

import (
	"context"
	"fmt"
	"time"
)

// A Job is a submission descriptor: the worker command line, the
// scheduler-visible job name, the requested time budget, and the
// paths to which the job's stdout and stderr are directed.
type Job struct {
	Command    []string
	Name       string
	TimeBudget time.Duration
	StdoutPath string
	StderrPath string
}

// A Handle identifies a submitted job to its scheduler.
type Handle string

// Scheduler is the cluster scheduler contract.
type Scheduler interface {
	// Submit enqueues the job and returns its handle. A failed
	// submission means the job can never produce results, so callers
	// treat it as fatal.
	Submit(ctx context.Context, job Job) (Handle, error)

	// CountRunningOrPending returns the number of jobs whose names
	// start with prefix that the queue still reports as running or
	// pending.
	CountRunningOrPending(ctx context.Context, prefix string) (int, error)
}

// A SubmissionError indicates that the scheduler rejected, or could
// not be invoked for, a job submission.
type SubmissionError struct {
	Job string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("sched: submission of job %s failed: %v", e.Job, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
