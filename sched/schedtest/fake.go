// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schedtest provides an in-process fake scheduler for
// testing cluster-mode dispatch without a batch system.
package schedtest

import (
	"context"
	"strings"
	"sync"

	"github.com/voxelbio/blockflow/sched"
)

// Fake is a sched.Scheduler that runs each submitted job's Exec
// function on a goroutine, tracking queue occupancy by job name. The
// zero Exec drops jobs on the floor (they complete immediately
// without doing work).
type Fake struct {
	// Exec executes a submitted job; it stands in for the job's
	// command line.
	Exec func(ctx context.Context, job sched.Job) error

	// SubmitErr, if set, fails every submission.
	SubmitErr error

	mu      sync.Mutex
	queued  map[string]int
	submits []sched.Job
	wg      sync.WaitGroup
}

// New returns an empty fake scheduler.
func New() *Fake {
	return &Fake{queued: make(map[string]int)}
}

func (f *Fake) Submit(ctx context.Context, job sched.Job) (sched.Handle, error) {
	if f.SubmitErr != nil {
		return "", &sched.SubmissionError{Job: job.Name, Err: f.SubmitErr}
	}
	f.mu.Lock()
	f.queued[job.Name]++
	f.submits = append(f.submits, job)
	f.mu.Unlock()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if f.Exec != nil {
			_ = f.Exec(ctx, job)
		}
		f.mu.Lock()
		f.queued[job.Name]--
		if f.queued[job.Name] == 0 {
			delete(f.queued, job.Name)
		}
		f.mu.Unlock()
	}()
	return sched.Handle(job.Name), nil
}

func (f *Fake) CountRunningOrPending(ctx context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for name, count := range f.queued {
		if strings.HasPrefix(name, prefix) {
			n += count
		}
	}
	return n, nil
}

// Submitted returns the descriptors of all submissions in order.
func (f *Fake) Submitted() []sched.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sched.Job{}, f.submits...)
}

// Wait blocks until all accepted jobs have finished executing.
func (f *Fake) Wait() {
	f.wg.Wait()
}
