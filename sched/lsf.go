// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LSF submits jobs to an IBM LSF queue through the bsub and bjobs
// command line tools.
type LSF struct {
	// Queue, if nonempty, selects the submission queue.
	Queue string

	// run invokes a scheduler tool and returns its combined output;
	// it is replaced in tests.
	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewLSF returns an LSF scheduler using the bsub and bjobs binaries
// found on the path.
func NewLSF() *LSF {
	return &LSF{run: runCommand}
}

var lsfJobID = regexp.MustCompile(`Job <(\d+)>`)

func (s *LSF) Submit(ctx context.Context, job Job) (Handle, error) {
	out, err := s.run(ctx, "bsub", s.bsubArgs(job)...)
	if err != nil {
		return "", &SubmissionError{Job: job.Name, Err: err}
	}
	if m := lsfJobID.FindStringSubmatch(out); m != nil {
		return Handle(m[1]), nil
	}
	return Handle(strings.TrimSpace(out)), nil
}

func (s *LSF) bsubArgs(job Job) []string {
	args := []string{"-J", job.Name}
	if job.TimeBudget > 0 {
		args = append(args, "-We", minutes(job.TimeBudget))
	}
	if job.StdoutPath != "" {
		args = append(args, "-o", job.StdoutPath)
	}
	if job.StderrPath != "" {
		args = append(args, "-e", job.StderrPath)
	}
	if s.Queue != "" {
		args = append(args, "-q", s.Queue)
	}
	return append(args, job.Command...)
}

func (s *LSF) CountRunningOrPending(ctx context.Context, prefix string) (int, error) {
	out, err := s.run(ctx, "bjobs", "-noheader", "-o", "name", "-J", prefix+"*")
	if err != nil {
		return 0, err
	}
	return countLines(out, prefix), nil
}

// countLines counts the nonempty output lines naming jobs with the
// given prefix. bjobs reports "is not found" diagnostics on an empty
// queue; those lines carry no job name and are skipped.
func countLines(out, prefix string) int {
	var n int
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" && strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// minutes renders a time budget as whole minutes, the unit both bsub
// and sbatch expect; budgets are rounded up to at least one minute.
func minutes(d time.Duration) string {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return strconv.Itoa(m)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
