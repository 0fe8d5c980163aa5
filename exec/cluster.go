// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/sched"
)

// pollPolicy paces the queue-drain polling loop after cluster
// submission.
var pollPolicy = retry.Backoff(time.Second, 30*time.Second, 1.5)

const defaultTimeBudget = 30 * time.Minute

// clusterExecutor submits one scheduler job per blockflow job and
// then blocks until the queue no longer reports jobs under the
// task's name tag. The executor itself performs no work; concurrency
// is delegated entirely to the external scheduler.
type clusterExecutor struct {
	poll retry.Policy
}

func newClusterExecutor() *clusterExecutor {
	return &clusterExecutor{poll: pollPolicy}
}

func (c *clusterExecutor) Dispatch(ctx context.Context, rc *RunContext, task *Task, njobs int) error {
	tag := rc.Tag(task)
	budget := task.TimeBudget
	if budget <= 0 {
		budget = defaultTimeBudget
	}
	for job := 0; job < njobs; job++ {
		stdout := blockflow.StdoutPath(rc.Dir, task.Name, job)
		stderr := blockflow.StderrPath(rc.Dir, task.Name, job)
		descriptor := sched.Job{
			Command:    c.command(rc, task, job),
			Name:       fmt.Sprintf("%s-j%04d", tag, job),
			TimeBudget: budget,
			StdoutPath: stdout,
			StderrPath: stderr,
		}
		if _, err := rc.Scheduler.Submit(ctx, descriptor); err != nil {
			// A rejected submission means this job's results can never
			// materialize: fail the whole task immediately rather than
			// waiting for an aggregation that cannot succeed.
			return errors.E(errors.Fatal, fmt.Sprintf("%s: submit job %d", task.Name, job), err)
		}
		rc.record(stdout)
		rc.record(stderr)
		log.Debug.Printf("%s: submitted job %d as %s", task.Name, job, descriptor.Name)
	}
	return c.waitDrained(ctx, rc, task, tag)
}

// command builds the worker invocation for one job. The argument
// order is the worker contract: store path, input keys, output key,
// job id, job config path, run directory.
func (c *clusterExecutor) command(rc *RunContext, task *Task, job int) []string {
	inputs := strings.Join(task.Inputs, ",")
	if inputs == "" {
		inputs = "-"
	}
	output := task.Output
	if output == "" {
		output = "-"
	}
	return append(append([]string{}, rc.WorkerCommand...),
		rc.StorePath,
		inputs,
		output,
		strconv.Itoa(job),
		rc.JobConfigPath(task.Name, job),
		rc.Dir,
	)
}

// waitDrained polls the queue with backoff until no jobs tagged for
// the task remain running or pending. The wait has no hard timeout;
// it blocks until the queue is observed empty or the context is
// cancelled by a supervising caller.
func (c *clusterExecutor) waitDrained(ctx context.Context, rc *RunContext, task *Task, tag string) error {
	for retries := 0; ; retries++ {
		n, err := rc.Scheduler.CountRunningOrPending(ctx, tag)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		task.statusf("waiting for %d queued jobs", n)
		if err := retry.Wait(ctx, c.poll, retries); err != nil {
			return err
		}
	}
}
