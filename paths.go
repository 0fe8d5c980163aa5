// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

import (
	"fmt"

	"github.com/grailbio/base/file"
)

// Artifact paths inside a run directory. The layout is shared between
// the orchestration side (which writes job configs and consumes
// results) and the compute side (which reads job configs and writes
// results), so both derive paths from the same functions. Run
// directories may be any grailfile URL, e.g. a posix path or an
// s3:// prefix.

// JobConfigPath returns the path of the job config artifact for the
// named task and job id.
func JobConfigPath(dir, task string, job int) string {
	return file.Join(dir, fmt.Sprintf("%s-job%04d.json", task, job))
}

// ResultPath returns the path of the per-block result artifact for
// the named task and block id.
func ResultPath(dir, task string, block int) string {
	return file.Join(dir, fmt.Sprintf("%s-block%06d.json", task, block))
}

// MarkerPath returns the path of the completion marker for the named
// task. The marker is written only after every block has produced a
// result; its presence is the signal consumed by dependent tasks.
func MarkerPath(dir, task string) string {
	return file.Join(dir, task+".json")
}

// PartialPath returns the path of the partial-results log written
// when a task fails with incomplete results.
func PartialPath(dir, task string) string {
	return file.Join(dir, task+"-partial.json")
}

// StdoutPath and StderrPath return the log paths for a cluster job.
func StdoutPath(dir, task string, job int) string {
	return file.Join(dir, fmt.Sprintf("%s-job%04d.out", task, job))
}

func StderrPath(dir, task string, job int) string {
	return file.Join(dir, fmt.Sprintf("%s-job%04d.err", task, job))
}
