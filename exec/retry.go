// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
)

// Retry is an explicit dispatch retry policy: at most Max attempts,
// paced by Policy. It wraps only the dispatch layer — partitioning
// is idempotent and aggregation runs once, after the final attempt —
// keeping retry mechanics out of the business logic.
type Retry struct {
	// Max is the maximum number of attempts; values below one mean a
	// single attempt and no retries.
	Max int
	// Policy paces waits between attempts; nil selects a default
	// backoff.
	Policy retry.Policy
}

var defaultRetryPolicy = retry.Backoff(5*time.Second, time.Minute, 2)

// Do invokes f, retrying failures according to the policy. Context
// cancellation is never retried.
func (r Retry) Do(ctx context.Context, f func(ctx context.Context) error) error {
	max := r.Max
	if max < 1 {
		max = 1
	}
	policy := r.Policy
	if policy == nil {
		policy = defaultRetryPolicy
	}
	for attempt := 0; ; attempt++ {
		err := f(ctx)
		if err == nil || attempt+1 >= max {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		log.Printf("dispatch attempt %d of %d failed: %v; retrying", attempt+1, max, err)
		if werr := retry.Wait(ctx, policy, attempt); werr != nil {
			return werr
		}
	}
}
