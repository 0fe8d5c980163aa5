// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/voxelbio/blockflow"
)

// An Executor dispatches the jobs of one task and returns when no
// more results can materialize: when all pool workers have returned
// in local mode, or when the external queue has drained in cluster
// mode. Individual job failures are contained — they surface later
// as missing block results during aggregation — while
// infrastructure failures (a rejected submission, a cancelled
// context) are returned immediately.
type Executor interface {
	Dispatch(ctx context.Context, rc *RunContext, task *Task, njobs int) error
}

// localExecutor runs jobs in-process on goroutines drawing from a
// fixed-size token pool, bounding concurrency to avoid
// oversubscription.
type localExecutor struct {
	limiter *limiter.Limiter
}

func newLocalExecutor(p int) *localExecutor {
	if p < 1 {
		p = 1
	}
	l := &localExecutor{limiter: limiter.New()}
	l.limiter.Release(p)
	return l
}

func (l *localExecutor) Dispatch(ctx context.Context, rc *RunContext, task *Task, njobs int) error {
	// Fail fast if the task's function is unregistered: like a
	// rejected cluster submission, no result could ever materialize.
	if _, err := blockflow.LookupFunc(task.Func); err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for job := 0; job < njobs; job++ {
		wg.Add(1)
		go func(job int) {
			defer wg.Done()
			if err := l.limiter.Acquire(ctx, 1); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			defer l.limiter.Release(1)
			if err := l.runJob(ctx, rc, task, job); err != nil {
				// A worker's failure fails only that job's blocks; its
				// siblings keep running and aggregation accounts for
				// the loss.
				log.Error.Printf("%s: job %d failed: %v", task.Name, job, err)
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("job %d: %v", job, err))
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := errs.ErrorOrNil(); err != nil {
		log.Printf("%s: %d of %d jobs failed; continuing to aggregation", task.Name, len(errs.Errors), njobs)
	}
	return nil
}

func (l *localExecutor) runJob(ctx context.Context, rc *RunContext, task *Task, job int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic while running job: %v\n%s", e, string(debug.Stack()))
		}
	}()
	call := blockflow.Call{
		Store:  rc.Store,
		Inputs: task.Inputs,
		Output: task.Output,
		Config: rc.JobConfigPath(task.Name, job),
		Job:    job,
		Dir:    rc.Dir,
	}
	return blockflow.RunJob(ctx, call)
}
