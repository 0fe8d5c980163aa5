// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockflow

// NumJobs returns the number of jobs used to process nBlocks blocks
// under a job cap of maxJobs. Jobs are never over-provisioned beyond
// the available work.
func NumJobs(nBlocks, maxJobs int) int {
	if nBlocks < maxJobs {
		return nBlocks
	}
	return maxJobs
}

// Assign distributes the block ids [0, nBlocks) over NumJobs(nBlocks,
// maxJobs) jobs by round-robin striping: job j owns blocks j, j+n,
// j+2n, and so on. The returned assignment is deterministic, the job
// block sets are disjoint, and their union is the full range. A zero
// nBlocks yields a nil assignment.
func Assign(nBlocks, maxJobs int) [][]int {
	njobs := NumJobs(nBlocks, maxJobs)
	if njobs == 0 {
		return nil
	}
	jobs := make([][]int, njobs)
	for job := range jobs {
		jobs[job] = make([]int, 0, (nBlocks-job+njobs-1)/njobs)
		for block := job; block < nBlocks; block += njobs {
			jobs[job] = append(jobs[job], block)
		}
	}
	return jobs
}
