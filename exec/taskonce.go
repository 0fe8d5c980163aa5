// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"
	"sync/atomic"
)

// onceTask manages a computation that must be run at most once.
// It's similar to sync.Once, except it also handles and returns
// errors.
type onceTask struct {
	mu   sync.Mutex
	done uint32
	err  error
}

func (o *onceTask) Do(do func() error) error {
	if atomic.LoadUint32(&o.done) == 1 {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if atomic.LoadUint32(&o.done) == 0 {
		o.err = do()
		atomic.StoreUint32(&o.done, 1)
	}
	return o.err
}

// taskOnce coordinates actions that must happen exactly once per
// key. Joined dependency sub-chains may reach a shared predecessor
// concurrently; taskOnce guarantees it still runs a single time.
type taskOnce sync.Map

// Do invokes the action named by key exactly once and returns the
// error of that single invocation to every caller.
func (t *taskOnce) Do(key interface{}, do func() error) error {
	taskv, _ := (*sync.Map)(t).LoadOrStore(key, new(onceTask))
	return taskv.(*onceTask).Do(do)
}
