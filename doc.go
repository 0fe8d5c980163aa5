// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blockflow implements block-parallel orchestration of volume
// processing pipelines. A volume is deterministically partitioned into
// fixed-shape blocks; blocks are striped over a bounded set of jobs;
// jobs are dispatched either to an in-process worker pool or to an
// external cluster scheduler; and per-block results are aggregated
// into a completion marker, or a partial-results log when some blocks
// failed. Tasks chain into dependency graphs evaluated by the exec
// package; the only coupling between stages is the completion marker
// and the datasets written to shared storage.
//
// The root package holds the pieces shared between the orchestration
// side and the compute side: the blocking, the block-to-job
// assignment, the artifact layout of a run directory, and the job
// config and block result records exchanged through it. Block-compute
// functions register themselves by name and are dispatched from job
// configs, so the worker binary needs no knowledge of the pipeline
// that invoked it.
package blockflow
