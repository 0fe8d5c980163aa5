// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// memStore is an in-memory store implementation. It is intended for
// local runs and tests; datasets are held as flat row-major arrays.
type memStore struct {
	mu       sync.Mutex
	datasets map[string]*memDataset
	attrs    map[string]map[string]json.RawMessage
}

type memDataset struct {
	meta Dataset
	data []uint64
}

// Mem returns an empty in-memory store.
func Mem() Store {
	return &memStore{
		datasets: make(map[string]*memDataset),
		attrs:    make(map[string]map[string]json.RawMessage),
	}
}

func (m *memStore) CreateDataset(ctx context.Context, key string, d Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[key]; ok {
		if !sameShape(ds.meta.Shape, d.Shape) {
			return errors.E(errors.Invalid,
				fmt.Sprintf("store: dataset %q exists with shape %v, requested %v", key, ds.meta.Shape, d.Shape))
		}
		return nil
	}
	size := 1
	for _, n := range d.Shape {
		if n <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("store: invalid shape %v for dataset %q", d.Shape, key))
		}
		size *= n
	}
	m.datasets[key] = &memDataset{meta: d, data: make([]uint64, size)}
	return nil
}

func (m *memStore) Dataset(ctx context.Context, key string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[key]
	if !ok {
		return Dataset{}, errors.E(errors.NotExist, fmt.Sprintf("store: no dataset %q", key))
	}
	return ds.meta, nil
}

func (m *memStore) ReadRegion(ctx context.Context, key string, begin, end []int) ([]uint64, error) {
	m.mu.Lock()
	ds, ok := m.datasets[key]
	m.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("store: no dataset %q", key))
	}
	if err := checkRegion(ds.meta, begin, end); err != nil {
		return nil, err
	}
	var (
		full = box{begin: make([]int, len(ds.meta.Shape)), end: ds.meta.Shape}
		req  = box{begin: begin, end: end}
		data = make([]uint64, req.size())
	)
	copyRegion(data, req, ds.data, full, req)
	return data, nil
}

func (m *memStore) WriteRegion(ctx context.Context, key string, begin, end []int, data []uint64) error {
	m.mu.Lock()
	ds, ok := m.datasets[key]
	m.mu.Unlock()
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("store: no dataset %q", key))
	}
	if err := checkRegion(ds.meta, begin, end); err != nil {
		return err
	}
	req := box{begin: begin, end: end}
	if len(data) != req.size() {
		return errors.E(errors.Invalid,
			fmt.Sprintf("store: region [%v,%v) holds %d elements, got %d", begin, end, req.size(), len(data)))
	}
	full := box{begin: make([]int, len(ds.meta.Shape)), end: ds.meta.Shape}
	copyRegion(ds.data, full, data, req, req)
	return nil
}

func (m *memStore) Attr(ctx context.Context, key, name string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.attrs[key][name]
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("store: no attribute %q on %q", name, key))
	}
	return json.Unmarshal(raw, v)
}

func (m *memStore) SetAttr(ctx context.Context, key, name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attrs[key] == nil {
		m.attrs[key] = make(map[string]json.RawMessage)
	}
	m.attrs[key][name] = raw
	return nil
}
