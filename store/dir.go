// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/tidwall/gjson"
)

// dirStore is a directory-backed store. Each dataset lives under
// {prefix}/{key}/ as a meta.json record, an optional attributes.json
// record, and one compressed chunk file per chunk, named
// c{i0}.{i1}....{ik} by chunk index. Chunks are stored at full chunk
// shape, zero padded at the volume boundary. The layout supports
// concurrent region I/O from many workers as long as writers touch
// disjoint chunk sets, which the block partitioning guarantees for
// chunk-aligned block shapes.
type dirStore struct {
	prefix string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	metas map[string]Dataset
}

// Dir returns a store rooted at the given prefix, which may be any
// grailfile URL (a posix directory, an s3:// prefix, ...).
func Dir(prefix string) Store {
	return &dirStore{
		prefix: prefix,
		locks:  make(map[string]*sync.Mutex),
		metas:  make(map[string]Dataset),
	}
}

func (s *dirStore) metaPath(key string) string {
	return file.Join(s.prefix, key, "meta.json")
}

func (s *dirStore) attrPath(key string) string {
	return file.Join(s.prefix, key, "attributes.json")
}

func (s *dirStore) chunkPath(key string, idx []int) string {
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = strconv.Itoa(n)
	}
	return file.Join(s.prefix, key, "c"+strings.Join(parts, "."))
}

// chunkLock returns the mutex serializing read-modify-write cycles
// on a single chunk file within this process.
func (s *dirStore) chunkLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = new(sync.Mutex)
		s.locks[path] = l
	}
	return l
}

func (s *dirStore) CreateDataset(ctx context.Context, key string, d Dataset) error {
	if len(d.Shape) == 0 || len(d.Chunks) != len(d.Shape) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("store: invalid dataset %q: shape %v, chunks %v", key, d.Shape, d.Chunks))
	}
	for i := range d.Shape {
		if d.Shape[i] <= 0 || d.Chunks[i] <= 0 {
			return errors.E(errors.Invalid,
				fmt.Sprintf("store: invalid dataset %q: shape %v, chunks %v", key, d.Shape, d.Chunks))
		}
	}
	if _, err := lookupCodec(d.Compression); err != nil {
		return err
	}
	if prev, err := s.Dataset(ctx, key); err == nil {
		if !sameShape(prev.Shape, d.Shape) {
			return errors.E(errors.Invalid,
				fmt.Sprintf("store: dataset %q exists with shape %v, requested %v", key, prev.Shape, d.Shape))
		}
		return nil
	} else if !errors.Is(errors.NotExist, err) {
		return err
	}
	if err := writeBytes(ctx, s.metaPath(key), mustMarshal(d)); err != nil {
		return err
	}
	s.mu.Lock()
	s.metas[key] = d
	s.mu.Unlock()
	return nil
}

func (s *dirStore) Dataset(ctx context.Context, key string) (Dataset, error) {
	s.mu.Lock()
	d, ok := s.metas[key]
	s.mu.Unlock()
	if ok {
		return d, nil
	}
	p, err := readBytes(ctx, s.metaPath(key))
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return Dataset{}, errors.E(errors.NotExist, fmt.Sprintf("store: no dataset %q", key))
		}
		return Dataset{}, err
	}
	if err := json.Unmarshal(p, &d); err != nil {
		return Dataset{}, err
	}
	s.mu.Lock()
	s.metas[key] = d
	s.mu.Unlock()
	return d, nil
}

func (s *dirStore) ReadRegion(ctx context.Context, key string, begin, end []int) ([]uint64, error) {
	d, err := s.Dataset(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkRegion(d, begin, end); err != nil {
		return nil, err
	}
	codec, err := lookupCodec(d.Compression)
	if err != nil {
		return nil, err
	}
	var (
		req  = box{begin: begin, end: end}
		data = make([]uint64, req.size())
	)
	err = chunkRange(d.Shape, d.Chunks, begin, end, func(idx []int, cbox box) error {
		chunk, err := s.loadChunk(ctx, codec, d, key, idx)
		if err != nil {
			return err
		}
		if chunk == nil {
			// Unwritten chunks read as zeros.
			return nil
		}
		overlap, ok := intersect(req, cbox)
		if !ok {
			return nil
		}
		copyRegion(data, req, chunk, fullChunkBox(d, idx), overlap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *dirStore) WriteRegion(ctx context.Context, key string, begin, end []int, data []uint64) error {
	d, err := s.Dataset(ctx, key)
	if err != nil {
		return err
	}
	if err := checkRegion(d, begin, end); err != nil {
		return err
	}
	req := box{begin: begin, end: end}
	if len(data) != req.size() {
		return errors.E(errors.Invalid,
			fmt.Sprintf("store: region [%v,%v) holds %d elements, got %d", begin, end, req.size(), len(data)))
	}
	codec, err := lookupCodec(d.Compression)
	if err != nil {
		return err
	}
	return chunkRange(d.Shape, d.Chunks, begin, end, func(idx []int, cbox box) error {
		path := s.chunkPath(key, idx)
		lock := s.chunkLock(path)
		lock.Lock()
		defer lock.Unlock()
		chunk, err := s.loadChunk(ctx, codec, d, key, idx)
		if err != nil {
			return err
		}
		chunkBox := fullChunkBox(d, idx)
		if chunk == nil {
			chunk = make([]uint64, chunkBox.size())
		}
		overlap, ok := intersect(req, cbox)
		if !ok {
			return nil
		}
		copyRegion(chunk, chunkBox, data, req, overlap)
		return writeBytes(ctx, path, codec.encode(chunk))
	})
}

// fullChunkBox returns the unclipped box of the chunk at idx; chunk
// files always cover the full chunk shape.
func fullChunkBox(d Dataset, idx []int) box {
	b := box{begin: make([]int, len(idx)), end: make([]int, len(idx))}
	for i := range idx {
		b.begin[i] = idx[i] * d.Chunks[i]
		b.end[i] = b.begin[i] + d.Chunks[i]
	}
	return b
}

// loadChunk reads and decodes the chunk at idx, returning nil if the
// chunk has never been written.
func (s *dirStore) loadChunk(ctx context.Context, codec codec, d Dataset, key string, idx []int) ([]uint64, error) {
	p, err := readBytes(ctx, s.chunkPath(key, idx))
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return nil, nil
		}
		return nil, err
	}
	size := 1
	for _, n := range d.Chunks {
		size *= n
	}
	return codec.decode(p, size)
}

func (s *dirStore) Attr(ctx context.Context, key, name string, v interface{}) error {
	p, err := readBytes(ctx, s.attrPath(key))
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return errors.E(errors.NotExist, fmt.Sprintf("store: no attribute %q on %q", name, key))
		}
		return err
	}
	res := gjson.GetBytes(p, name)
	if !res.Exists() {
		return errors.E(errors.NotExist, fmt.Sprintf("store: no attribute %q on %q", name, key))
	}
	return json.Unmarshal([]byte(res.Raw), v)
}

func (s *dirStore) SetAttr(ctx context.Context, key, name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := s.attrPath(key)
	lock := s.chunkLock(path)
	lock.Lock()
	defer lock.Unlock()
	attrs := make(map[string]json.RawMessage)
	if p, err := readBytes(ctx, path); err == nil {
		if err := json.Unmarshal(p, &attrs); err != nil {
			return err
		}
	} else if !errors.Is(errors.NotExist, err) {
		return err
	}
	attrs[name] = raw
	return writeBytes(ctx, path, mustMarshal(attrs))
}

func readBytes(ctx context.Context, path string) ([]byte, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	return ioutil.ReadAll(f.Reader(ctx))
}

func writeBytes(ctx context.Context, path string, p []byte) error {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err = f.Writer(ctx).Write(p); err != nil {
		_ = f.Close(ctx)
		return err
	}
	return f.Close(ctx)
}

func mustMarshal(v interface{}) []byte {
	p, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return p
}
