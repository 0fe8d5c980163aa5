// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"regexp"
	"strings"
)

// Slurm submits jobs to a Slurm queue through the sbatch and squeue
// command line tools.
type Slurm struct {
	// Partition, if nonempty, selects the submission partition.
	Partition string

	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewSlurm returns a Slurm scheduler using the sbatch and squeue
// binaries found on the path.
func NewSlurm() *Slurm {
	return &Slurm{run: runCommand}
}

var slurmJobID = regexp.MustCompile(`Submitted batch job (\d+)`)

func (s *Slurm) Submit(ctx context.Context, job Job) (Handle, error) {
	out, err := s.run(ctx, "sbatch", s.sbatchArgs(job)...)
	if err != nil {
		return "", &SubmissionError{Job: job.Name, Err: err}
	}
	if m := slurmJobID.FindStringSubmatch(out); m != nil {
		return Handle(m[1]), nil
	}
	return Handle(strings.TrimSpace(out)), nil
}

func (s *Slurm) sbatchArgs(job Job) []string {
	args := []string{"--job-name=" + job.Name}
	if job.TimeBudget > 0 {
		args = append(args, "--time="+minutes(job.TimeBudget))
	}
	if job.StdoutPath != "" {
		args = append(args, "--output="+job.StdoutPath)
	}
	if job.StderrPath != "" {
		args = append(args, "--error="+job.StderrPath)
	}
	if s.Partition != "" {
		args = append(args, "--partition="+s.Partition)
	}
	return append(args, "--wrap="+quoteCommand(job.Command))
}

var shellSafe = regexp.MustCompile(`^[-_=+:,./a-zA-Z0-9]+$`)

// quoteCommand renders argv as one shell command line. sbatch hands
// the wrapped command to a shell, so any argument the shell would
// split or expand is single-quoted.
func quoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if shellSafe.MatchString(arg) {
			quoted[i] = arg
			continue
		}
		quoted[i] = "'" + strings.Replace(arg, "'", `'\''`, -1) + "'"
	}
	return strings.Join(quoted, " ")
}

// CountRunningOrPending lists all queued job names and counts prefix
// matches client side; squeue's own name filter matches only exact
// names.
func (s *Slurm) CountRunningOrPending(ctx context.Context, prefix string) (int, error) {
	out, err := s.run(ctx, "squeue", "--noheader", "--format=%j")
	if err != nil {
		return 0, err
	}
	return countLines(out, prefix), nil
}
