// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Blockflow drives block-parallel volume pipelines. It has two
// subcommands: run builds and evaluates the multiscale label workflow
// over a chunked volume store, and worker is the per-job compute
// entry point invoked on cluster nodes by the run's scheduler jobs.
//
// Usage:
//
//	blockflow run -store path -raw key -dataset key [flags]
//	blockflow worker store-path input-keys output-key job-id job-config run-dir
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/voxelbio/blockflow"
	"github.com/voxelbio/blockflow/blockops"
	"github.com/voxelbio/blockflow/exec"
	"github.com/voxelbio/blockflow/pipeline"
	"github.com/voxelbio/blockflow/sched"
	"github.com/voxelbio/blockflow/store"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
	blockflow run -store path -raw key -dataset key [flags]
	blockflow worker store-path input-keys output-key job-id job-config run-dir
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}
	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "run":
		err = runCmd(args)
	case "worker":
		err = workerCmd(args)
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

// workerCmd implements the per-job compute contract: positional
// arguments name the store, the input and output dataset keys, the
// job id, the job config artifact, and the run directory.
func workerCmd(args []string) error {
	if len(args) != 6 {
		usage()
	}
	job, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("bad job id %q: %v", args[3], err)
	}
	var inputs []string
	if args[1] != "-" {
		inputs = strings.Split(args[1], ",")
	}
	output := args[2]
	if output == "-" {
		output = ""
	}
	return blockflow.RunJob(context.Background(), blockflow.Call{
		Store:  store.Dir(args[0]),
		Inputs: inputs,
		Output: output,
		Config: args[4],
		Job:    job,
		Dir:    args[5],
	})
}

func runCmd(args []string) error {
	var (
		fl         = flag.NewFlagSet("run", flag.ExitOnError)
		storePath  = fl.String("store", "", "store path (directory or s3 prefix)")
		dir        = fl.String("dir", "", "run directory; defaults to {store}/runs")
		raw        = fl.String("raw", "raw", "input volume dataset key")
		dataset    = fl.String("dataset", "labels", "output pyramid dataset key")
		threshold  = fl.Float64("threshold", 0.5, "foreground threshold")
		blockShape = fl.String("block", "64,64,64", "block shape")
		factors    = fl.String("factors", "2,2,2;2,2,2", "per-scale downsampling factors")
		origin     = fl.Int("origin", 0, "scale index produced by thresholding")
		maxJobs    = fl.Int("p", 1, "maximum jobs per stage")
		scheduler  = fl.String("scheduler", "", `cluster scheduler ("lsf" or "slurm"); empty runs locally`)
		queue      = fl.String("queue", "", "cluster queue or partition")
		worker     = fl.String("worker", os.Args[0], "worker binary submitted to the cluster")
	)
	if err := fl.Parse(args); err != nil {
		return err
	}
	if *storePath == "" {
		return fmt.Errorf("missing flag -store")
	}
	if *dir == "" {
		*dir = file.Join(*storePath, "runs")
	}
	block, err := parseShape(*blockShape)
	if err != nil {
		return err
	}
	allFactors, err := parseFactors(*factors)
	if err != nil {
		return err
	}

	opts := []exec.RunOption{
		exec.WithStore(store.Dir(*storePath)),
		exec.MaxJobs(*maxJobs),
	}
	switch *scheduler {
	case "":
	case "lsf":
		lsf := sched.NewLSF()
		lsf.Queue = *queue
		opts = append(opts, exec.WithScheduler(lsf, []string{*worker, "worker"}, *storePath))
	case "slurm":
		slurm := sched.NewSlurm()
		slurm.Partition = *queue
		opts = append(opts, exec.WithScheduler(slurm, []string{*worker, "worker"}, *storePath))
	default:
		return fmt.Errorf("unknown scheduler %q", *scheduler)
	}
	var stat status.Status
	opts = append(opts, exec.WithStatus(&stat))

	ctx := context.Background()
	rc, err := exec.NewRun(*dir, opts...)
	if err != nil {
		return err
	}
	rawShape, err := rc.Store.Dataset(ctx, *raw)
	if err != nil {
		return err
	}

	w := pipeline.New("multiscale")
	if err := w.Defaults(blockops.ThresholdComponents, map[string]interface{}{"threshold": *threshold}); err != nil {
		return err
	}
	stage := w.Add(&pipeline.Task{
		Name:       "threshold",
		Func:       blockops.ThresholdComponents,
		Inputs:     []string{*raw},
		Output:     fmt.Sprintf("%s/s%d", *dataset, *origin),
		BlockShape: block,
	})
	_, err = pipeline.Multiscale(w, pipeline.MultiscaleConfig{
		Dataset:     *dataset,
		Origin:      *origin,
		OriginShape: rawShape.Shape,
		Factors:     allFactors,
		BlockShape:  block,
		Resolution:  ones(len(block)),
		Offset:      make([]int, len(block)),
	}, stage)
	if err != nil {
		return err
	}
	log.Printf("run %s: %d tasks, %d jobs per stage", rc.ID, len(w.Tasks()), *maxJobs)
	return w.Run(ctx, rc)
}

func parseShape(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad shape %q: %v", s, err)
		}
		shape[i] = n
	}
	return shape, nil
}

func parseFactors(s string) ([][]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	factors := make([][]int, len(parts))
	for i, p := range parts {
		f, err := parseShape(p)
		if err != nil {
			return nil, err
		}
		factors[i] = f
	}
	return factors, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
