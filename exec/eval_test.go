// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestEvalOrder(t *testing.T) {
	ctx := context.Background()
	rc, _, cleanup := newTestRun(t)
	defer cleanup()
	var order []string
	mark := func(name string) *Task {
		return &Task{
			Name: name,
			Run: func(ctx context.Context, rc *RunContext) error {
				order = append(order, name)
				return nil
			},
		}
	}
	first := mark("first")
	second := mark("second")
	second.Deps = []*Task{first}
	third := mark("third")
	third.Deps = []*Task{second}
	if err := Eval(ctx, rc, third); err != nil {
		t.Fatal(err)
	}
	if got, want := len(order), 3; got != want {
		t.Fatalf("got %d runs, want %d", got, want)
	}
	for i, name := range []string{"first", "second", "third"} {
		if order[i] != name {
			t.Errorf("position %d: got %s, want %s", i, order[i], name)
		}
	}
}

// TestEvalFailedDep checks that a dependent stage never starts when
// its dependency fails.
func TestEvalFailedDep(t *testing.T) {
	ctx := context.Background()
	rc, _, cleanup := newTestRun(t)
	defer cleanup()
	failing := &Task{
		Name:       "failing",
		Func:       testOpName,
		Output:     "out",
		Shape:      []int{2},
		BlockShape: []int{1},
		Params:     map[string]interface{}{"fail_blocks": []int{0, 1}},
	}
	var ran int32
	dependent := &Task{
		Name: "dependent",
		Deps: []*Task{failing},
		Run: func(ctx context.Context, rc *RunContext) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	}
	err := Eval(ctx, rc, dependent)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&ran); got != 0 {
		t.Errorf("dependent ran %d times, want 0", got)
	}
	if got, want := failing.State(), TaskErr; got != want {
		t.Errorf("failing: got state %v, want %v", got, want)
	}
	if got, want := dependent.State(), TaskErr; got != want {
		t.Errorf("dependent: got state %v, want %v", got, want)
	}
	if _, err := ReadMarker(ctx, rc.Dir, "dependent"); err == nil {
		t.Error("unexpected marker for dependent")
	}
}

// TestEvalDiamond checks that a shared dependency reached through two
// concurrent chains runs exactly once.
func TestEvalDiamond(t *testing.T) {
	ctx := context.Background()
	rc, _, cleanup := newTestRun(t)
	defer cleanup()
	var runs int32
	counted := func(name string, deps ...*Task) *Task {
		return &Task{
			Name: name,
			Deps: deps,
			Run: func(ctx context.Context, rc *RunContext) error {
				if name == "base" {
					atomic.AddInt32(&runs, 1)
				}
				return nil
			},
		}
	}
	base := counted("base")
	left := counted("left", base)
	right := counted("right", base)
	join := counted("join", left, right)
	if err := Eval(ctx, rc, join); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt32(&runs), int32(1); got != want {
		t.Errorf("base ran %d times, want %d", got, want)
	}
	for _, task := range []*Task{base, left, right, join} {
		if got, want := task.State(), TaskOk; got != want {
			t.Errorf("%s: got state %v, want %v", task.Name, got, want)
		}
	}
}

func TestEvalValidate(t *testing.T) {
	ctx := context.Background()
	rc, _, cleanup := newTestRun(t)
	defer cleanup()
	for _, task := range []*Task{
		{},
		{Name: "nofunc", BlockShape: []int{1}, Shape: []int{2}},
		{Name: "noblocks", Func: testOpName, Shape: []int{2}},
		{Name: "noshape", Func: testOpName, BlockShape: []int{1}},
	} {
		if err := Eval(ctx, rc, task); err == nil {
			t.Errorf("task %q: expected error", task.Name)
		}
	}
}

func TestWaitState(t *testing.T) {
	ctx := context.Background()
	rc, _, cleanup := newTestRun(t)
	defer cleanup()
	release := make(chan struct{})
	task := &Task{
		Name: "waited",
		Run: func(ctx context.Context, rc *RunContext) error {
			<-release
			return nil
		},
	}
	done := make(chan error, 1)
	go func() {
		done <- Eval(ctx, rc, task)
	}()
	if state, err := task.WaitState(ctx, TaskRunning); err != nil {
		t.Fatal(err)
	} else if state < TaskRunning {
		t.Fatalf("got state %v, want at least %v", state, TaskRunning)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if state, err := task.WaitState(ctx, TaskOk); err != nil || state != TaskOk {
		t.Fatalf("got state %v (%v), want %v", state, err, TaskOk)
	}
}
