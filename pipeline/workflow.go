// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline composes tasks into dependency-chained workflows.
// A workflow collects tasks, wires implicit sequential dependencies,
// merges registered per-stage parameter defaults, and evaluates the
// resulting graph on a run context. The package also provides the
// standard multiscale label workflow.
package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/voxelbio/blockflow/exec"
)

// A Workflow is an ordered collection of tasks forming one pipeline.
// Tasks added without explicit dependencies are chained sequentially;
// After wires explicit joins and forks. Workflows are built by a
// single goroutine and then evaluated.
type Workflow struct {
	// Name identifies the workflow in logs.
	Name string

	tasks    []*Task
	last     *Task
	defaults map[string]map[string]interface{}
}

// Task is the workflow-level task alias.
type Task = exec.Task

// New returns an empty workflow with the given name.
func New(name string) *Workflow {
	return &Workflow{
		Name:     name,
		defaults: make(map[string]map[string]interface{}),
	}
}

// Defaults registers default parameters for every task dispatching
// the named function. Registrations accumulate; registering a key
// that is already registered with a different value is an error, so
// two workflow fragments cannot silently disagree about a stage's
// configuration.
func (w *Workflow) Defaults(fn string, params map[string]interface{}) error {
	prev, ok := w.defaults[fn]
	if !ok {
		prev = make(map[string]interface{})
		w.defaults[fn] = prev
	}
	for key, value := range params {
		if old, ok := prev[key]; ok && !reflect.DeepEqual(old, value) {
			return errors.E(errors.Exists,
				fmt.Sprintf("pipeline: conflicting default %s.%s: %v and %v", fn, key, old, value))
		}
		prev[key] = value
	}
	return nil
}

// Add appends a task to the workflow. If the task declares no
// dependencies, it is chained onto the previously added task, giving
// linear pipelines their natural order for free. Registered defaults
// for the task's function are merged into its params, with the task's
// own values taking precedence. Add returns the task for chaining.
func (w *Workflow) Add(task *Task) *Task {
	if task.Deps == nil && w.last != nil {
		task.Deps = []*Task{w.last}
	}
	w.merge(task)
	w.tasks = append(w.tasks, task)
	w.last = task
	return task
}

// After appends a task that depends exactly on the given tasks,
// overriding the implicit sequential chain. After with no
// dependencies makes the task an independent root.
func (w *Workflow) After(task *Task, deps ...*Task) *Task {
	task.Deps = append([]*Task{}, deps...)
	return w.Add(task)
}

// Tasks returns the workflow's tasks in the order they were added.
func (w *Workflow) Tasks() []*Task {
	return w.tasks
}

func (w *Workflow) merge(task *Task) {
	defaults := w.defaults[task.Func]
	if len(defaults) == 0 {
		return
	}
	if task.Params == nil {
		task.Params = make(map[string]interface{})
	}
	for key, value := range defaults {
		if _, ok := task.Params[key]; !ok {
			task.Params[key] = value
		}
	}
}

// Run evaluates the workflow on the given run context, starting from
// its terminal tasks so that every task is reached through its
// dependents. On success the run's temporary artifacts are removed;
// after a failure they are left in place for inspection.
func (w *Workflow) Run(ctx context.Context, rc *exec.RunContext) error {
	if len(w.tasks) == 0 {
		return nil
	}
	if err := exec.Eval(ctx, rc, w.terminals()...); err != nil {
		return err
	}
	rc.Cleanup(ctx)
	return nil
}

// terminals returns the tasks no other workflow task depends on.
func (w *Workflow) terminals() []*Task {
	isDep := make(map[*Task]bool)
	for _, task := range w.tasks {
		for _, dep := range task.Deps {
			isDep[dep] = true
		}
	}
	var roots []*Task
	for _, task := range w.tasks {
		if !isDep[task] {
			roots = append(roots, task)
		}
	}
	return roots
}
