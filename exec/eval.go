// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"golang.org/x/sync/errgroup"
)

// Eval evaluates the task graphs rooted at the provided tasks.
// Dependencies run before their dependents; independent dependency
// sub-chains are evaluated concurrently and joined, while each task
// runs at most once no matter how many chains reach it. Any task
// error halts every chain through that task: a dependent never runs
// against a dataset that was only partially produced.
func Eval(ctx context.Context, rc *RunContext, roots ...*Task) error {
	var group *status.Group
	if rc.Status != nil {
		group = rc.Status.Groupf("run %s tasks", rc.ID)
	}
	eval := &evaluator{rc: rc, group: group}
	return eval.evalAll(ctx, roots)
}

type evaluator struct {
	rc    *RunContext
	group *status.Group
	once  taskOnce
}

func (e *evaluator) evalAll(ctx context.Context, tasks []*Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return e.eval(ctx, task)
		})
	}
	return g.Wait()
}

func (e *evaluator) eval(ctx context.Context, task *Task) error {
	return e.once.Do(task, func() error {
		if err := task.validate(); err != nil {
			task.Error(err)
			return err
		}
		task.Set(TaskWaiting)
		if len(task.Deps) > 0 {
			if err := e.evalAll(ctx, task.Deps); err != nil {
				// The dependency's own evaluation reported its error;
				// this task simply never starts.
				task.Error(err)
				return err
			}
		}
		if e.group != nil {
			task.Status = e.group.Startf("%s", task.Name)
			defer task.Status.Done()
		}
		task.Set(TaskRunning)
		log.Debug.Printf("running: %s", task)
		if err := task.run(ctx, e.rc); err != nil {
			log.Error.Printf("%s: %v", task.Name, err)
			task.Error(err)
			return err
		}
		task.Set(TaskOk)
		log.Debug.Printf("done: %s", task)
		return nil
	})
}
