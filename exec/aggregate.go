// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/voxelbio/blockflow"
)

// aggregateParallelism bounds the parallel result scan.
const aggregateParallelism = 32

// A Report is a task's completion marker: the per-block summary
// statistics of a fully processed volume. Its presence in the run
// directory is the signal dependent tasks consume.
type Report struct {
	Task    string                  `json:"task"`
	Total   int                     `json:"total"`
	Results []blockflow.BlockResult `json:"results,omitempty"`
}

// A PartialReport is the log written when a task fails with an
// incomplete result set: the block ids that did produce results,
// their statistics, and the explicit processed/total accounting.
type PartialReport struct {
	Task      string                  `json:"task"`
	Processed []int                   `json:"processed"`
	Total     int                     `json:"total"`
	Results   []blockflow.BlockResult `json:"results,omitempty"`
}

// A PartialError is a task's terminal failure after dispatch
// completed with fewer block results than expected. It carries the
// full accounting and the path of the persisted partial-results log.
type PartialError struct {
	Task      string
	Processed int
	Total     int
	Log       string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("task %s failed: %d / %d blocks processed, partial results at %s",
		e.Task, e.Processed, e.Total, e.Log)
}

// aggregate scans for the expected per-block result artifacts across
// all n block ids, consuming (reading and deleting) each one found.
// A missing or malformed artifact counts its block as unprocessed;
// the scan never aborts early, so the accounting of what succeeded
// is always complete. If every block produced a result, the task's
// completion marker is written; otherwise a partial-results log is
// persisted and a *PartialError is returned.
func (t *Task) aggregate(ctx context.Context, rc *RunContext, n int) error {
	slots := make([]*blockflow.BlockResult, n)
	_ = traverse.Limit(aggregateParallelism).Each(n, func(block int) error {
		path := rc.ResultPath(t.Name, block)
		result, err := blockflow.ReadBlockResult(ctx, path)
		if err != nil {
			// Missing or unreadable: the block is counted as
			// unprocessed. Malformed results are deliberately not
			// distinguished from blocks that never ran.
			return nil
		}
		if err := file.Remove(ctx, path); err != nil {
			log.Error.Printf("%s: remove result %s: %v", t.Name, path, err)
		}
		if result.Status == blockflow.StatusOK {
			slots[block] = &result
		}
		return nil
	})
	var (
		processed = make([]int, 0, n)
		results   = make([]blockflow.BlockResult, 0, n)
	)
	for block, result := range slots {
		if result != nil {
			processed = append(processed, block)
			results = append(results, *result)
		}
	}
	if len(processed) == n {
		return writeMarker(ctx, rc, t, results, n)
	}
	logPath := blockflow.PartialPath(rc.Dir, t.Name)
	partial := PartialReport{
		Task:      t.Name,
		Processed: processed,
		Total:     n,
		Results:   results,
	}
	if err := writeJSON(ctx, logPath, partial); err != nil {
		return err
	}
	return &PartialError{
		Task:      t.Name,
		Processed: len(processed),
		Total:     n,
		Log:       logPath,
	}
}

// writeMarker persists the task's completion marker.
func writeMarker(ctx context.Context, rc *RunContext, t *Task, results []blockflow.BlockResult, total int) error {
	return writeJSON(ctx, blockflow.MarkerPath(rc.Dir, t.Name), Report{
		Task:    t.Name,
		Total:   total,
		Results: results,
	})
}

// ReadMarker reads the completion marker of the named task, if one
// has been written.
func ReadMarker(ctx context.Context, dir, task string) (Report, error) {
	var report Report
	f, err := file.Open(ctx, blockflow.MarkerPath(dir, task))
	if err != nil {
		return report, err
	}
	defer f.Close(ctx)
	err = json.NewDecoder(f.Reader(ctx)).Decode(&report)
	return report, err
}

// ReadPartial reads the partial-results log of the named task, if
// one has been written.
func ReadPartial(ctx context.Context, dir, task string) (PartialReport, error) {
	var report PartialReport
	f, err := file.Open(ctx, blockflow.PartialPath(dir, task))
	if err != nil {
		return report, err
	}
	defer f.Close(ctx)
	err = json.NewDecoder(f.Reader(ctx)).Decode(&report)
	return report, err
}

func writeJSON(ctx context.Context, path string, v interface{}) error {
	p, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err = f.Writer(ctx).Write(p); err != nil {
		_ = f.Close(ctx)
		return err
	}
	if err := f.Close(ctx); err != nil {
		return errors.E(fmt.Sprintf("write %s", path), err)
	}
	return nil
}
