// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockops

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/store"
)

// runOp runs the named function as a single job covering every block
// of the config, returning the run directory for result inspection.
func runOp(t *testing.T, s store.Store, config blockflow.JobConfig, inputs []string, output string) (string, func()) {
	t.Helper()
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "blockops")
	blocking, err := blockflow.NewBlocking(config.Shape, config.BlockShape)
	if err != nil {
		t.Fatal(err)
	}
	for id := 0; id < blocking.N(); id++ {
		config.Blocks = append(config.Blocks, id)
	}
	path := blockflow.JobConfigPath(dir, config.Task, 0)
	if err := blockflow.WriteJobConfig(ctx, path, config); err != nil {
		t.Fatal(err)
	}
	err = blockflow.RunJob(ctx, blockflow.Call{
		Store:  s,
		Inputs: inputs,
		Output: output,
		Config: path,
		Job:    0,
		Dir:    dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir, cleanup
}

func mustCreate(t *testing.T, s store.Store, key string, shape, chunks []int, data []uint64) {
	t.Helper()
	ctx := context.Background()
	err := s.CreateDataset(ctx, key, store.Dataset{Shape: shape, Chunks: chunks, Dtype: "uint64"})
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		begin := make([]int, len(shape))
		if err := s.WriteRegion(ctx, key, begin, shape, data); err != nil {
			t.Fatal(err)
		}
	}
}

func mustRead(t *testing.T, s store.Store, key string, shape []int) []uint64 {
	t.Helper()
	begin := make([]int, len(shape))
	data, err := s.ReadRegion(context.Background(), key, begin, shape)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func mustParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestLabelComponents(t *testing.T) {
	// Two components under face connectivity: the diagonal pair does
	// not connect.
	foreground := []bool{
		true, true, false, false,
		false, false, false, true,
		false, false, true, true,
	}
	labels, n := labelComponents(foreground, []int{3, 4})
	if got, want := n, 2; got != want {
		t.Fatalf("got %v components, want %v", got, want)
	}
	want := []uint64{
		1, 1, 0, 0,
		0, 0, 0, 2,
		0, 0, 2, 2,
	}
	if got := labels; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLabelComponentsEmpty(t *testing.T) {
	labels, n := labelComponents(make([]bool, 6), []int{2, 3})
	if got, want := n, 0; got != want {
		t.Fatalf("got %v components, want %v", got, want)
	}
	for i, l := range labels {
		if l != 0 {
			t.Errorf("index %d: got label %d, want 0", i, l)
		}
	}
}

func TestThresholdComponents(t *testing.T) {
	s := store.Mem()
	mustCreate(t, s, "raw", []int{3, 4}, []int{3, 4}, []uint64{
		9, 9, 0, 0,
		0, 0, 0, 9,
		0, 0, 9, 9,
	})
	mustCreate(t, s, "labels", []int{3, 4}, []int{3, 4}, nil)
	config := blockflow.JobConfig{
		Task:       "threshold",
		Func:       ThresholdComponents,
		Shape:      []int{3, 4},
		BlockShape: []int{3, 4},
		Params:     mustParams(t, thresholdParams{Threshold: 5}),
	}
	dir, cleanup := runOp(t, s, config, []string{"raw"}, "labels")
	defer cleanup()

	want := []uint64{
		1, 1, 0, 0,
		0, 0, 0, 2,
		0, 0, 2, 2,
	}
	if got := mustRead(t, s, "labels", []int{3, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	result, err := blockflow.ReadBlockResult(context.Background(), blockflow.ResultPath(dir, "threshold", 0))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := result.Status, blockflow.StatusOK; got != want {
		t.Errorf("got status %q, want %q", got, want)
	}
	if got, want := result.Summary["n_components"], 2.0; got != want {
		t.Errorf("got %v components, want %v", got, want)
	}
}

func TestThresholdComponentsMask(t *testing.T) {
	s := store.Mem()
	mustCreate(t, s, "raw", []int{1, 4}, []int{1, 4}, []uint64{9, 9, 9, 9})
	mustCreate(t, s, "mask", []int{1, 4}, []int{1, 4}, []uint64{1, 1, 0, 1})
	mustCreate(t, s, "labels", []int{1, 4}, []int{1, 4}, nil)
	config := blockflow.JobConfig{
		Task:       "threshold-masked",
		Func:       ThresholdComponents,
		Shape:      []int{1, 4},
		BlockShape: []int{1, 4},
		Params:     mustParams(t, thresholdParams{Threshold: 5}),
	}
	_, cleanup := runOp(t, s, config, []string{"raw", "mask"}, "labels")
	defer cleanup()

	// The masked-out voxel splits the row into two components.
	want := []uint64{1, 1, 0, 2}
	if got := mustRead(t, s, "labels", []int{1, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDownsample(t *testing.T) {
	s := store.Mem()
	in := make([]uint64, 16)
	for i := range in {
		in[i] = uint64(i)
	}
	mustCreate(t, s, "s0", []int{4, 4}, []int{4, 4}, in)
	mustCreate(t, s, "s1", []int{2, 2}, []int{2, 2}, nil)
	config := blockflow.JobConfig{
		Task:       "down",
		Func:       Downsample,
		Shape:      []int{2, 2},
		BlockShape: []int{2, 2},
		Params:     mustParams(t, sampleParams{Factor: []int{2, 2}}),
	}
	_, cleanup := runOp(t, s, config, []string{"s0"}, "s1")
	defer cleanup()

	want := []uint64{0, 2, 8, 10}
	if got := mustRead(t, s, "s1", []int{2, 2}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDownsampleUneven(t *testing.T) {
	// A 5-wide axis downsampled by 2 yields a 3-wide axis whose last
	// cell is partial.
	s := store.Mem()
	mustCreate(t, s, "s0", []int{5}, []int{5}, []uint64{10, 11, 12, 13, 14})
	mustCreate(t, s, "s1", []int{3}, []int{3}, nil)
	config := blockflow.JobConfig{
		Task:       "down-uneven",
		Func:       Downsample,
		Shape:      []int{3},
		BlockShape: []int{2},
		Params:     mustParams(t, sampleParams{Factor: []int{2}}),
	}
	_, cleanup := runOp(t, s, config, []string{"s0"}, "s1")
	defer cleanup()

	want := []uint64{10, 12, 14}
	if got := mustRead(t, s, "s1", []int{3}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUpsample(t *testing.T) {
	s := store.Mem()
	mustCreate(t, s, "s1", []int{2, 2}, []int{2, 2}, []uint64{1, 2, 3, 4})
	mustCreate(t, s, "s0", []int{4, 4}, []int{2, 2}, nil)
	config := blockflow.JobConfig{
		Task:       "up",
		Func:       Upsample,
		Shape:      []int{4, 4},
		BlockShape: []int{2, 2},
		Params:     mustParams(t, sampleParams{Factor: []int{2, 2}}),
	}
	_, cleanup := runOp(t, s, config, []string{"s1"}, "s0")
	defer cleanup()

	want := []uint64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if got := mustRead(t, s, "s0", []int{4, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSampleBadFactor(t *testing.T) {
	s := store.Mem()
	mustCreate(t, s, "in", []int{4}, []int{4}, nil)
	mustCreate(t, s, "out", []int{2}, []int{2}, nil)
	for _, params := range []sampleParams{
		{},
		{Factor: []int{2, 2}},
		{Factor: []int{0}},
	} {
		ctx := context.Background()
		dir, cleanup := testutil.TempDir(t, "", "blockops")
		defer cleanup()
		config := blockflow.JobConfig{
			Task:       "down-bad",
			Func:       Downsample,
			Shape:      []int{2},
			BlockShape: []int{2},
			Params:     mustParams(t, params),
			Blocks:     []int{0},
		}
		path := blockflow.JobConfigPath(dir, config.Task, 0)
		if err := blockflow.WriteJobConfig(ctx, path, config); err != nil {
			t.Fatal(err)
		}
		err := blockflow.RunJob(ctx, blockflow.Call{
			Store:  s,
			Inputs: []string{"in"},
			Output: "out",
			Config: path,
			Dir:    dir,
		})
		if err == nil {
			t.Errorf("factor %v: expected error", params.Factor)
		}
	}
}

func TestUniqueLabels(t *testing.T) {
	s := store.Mem()
	mustCreate(t, s, "labels", []int{4}, []int{4}, []uint64{0, 5, 5, 7})
	mustCreate(t, s, "counts", []int{2}, []int{2}, nil)
	config := blockflow.JobConfig{
		Task:       "unique",
		Func:       UniqueLabels,
		Shape:      []int{4},
		BlockShape: []int{2},
		Params:     nil,
	}
	dir, cleanup := runOp(t, s, config, []string{"labels"}, "counts")
	defer cleanup()

	want := []uint64{1, 2}
	if got := mustRead(t, s, "counts", []int{2}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	result, err := blockflow.ReadBlockResult(context.Background(), blockflow.ResultPath(dir, "unique", 1))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := result.Summary["n_unique"], 2.0; got != want {
		t.Errorf("got %v unique, want %v", got, want)
	}
	if got, want := result.Summary["max_id"], 7.0; got != want {
		t.Errorf("got max id %v, want %v", got, want)
	}
}
