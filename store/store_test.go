// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
)

// stores returns one instance of each store implementation under a
// fresh backing.
func stores(t *testing.T) (map[string]Store, func()) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "store")
	return map[string]Store{
		"mem": Mem(),
		"dir": Dir(dir),
	}, cleanup
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			d := Dataset{Shape: []int{4, 6}, Chunks: []int{2, 3}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "vol", d); err != nil {
				t.Fatal(err)
			}
			got, err := s.Dataset(ctx, "vol")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got.Shape, d.Shape) {
				t.Errorf("got shape %v, want %v", got.Shape, d.Shape)
			}

			data := make([]uint64, 24)
			for i := range data {
				data[i] = uint64(i + 1)
			}
			if err := s.WriteRegion(ctx, "vol", []int{0, 0}, []int{4, 6}, data); err != nil {
				t.Fatal(err)
			}
			back, err := s.ReadRegion(ctx, "vol", []int{0, 0}, []int{4, 6})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(back, data) {
				t.Errorf("got %v, want %v", back, data)
			}
		})
	}
}

// TestStoreUnalignedRegion exercises read-modify-write of a region
// straddling chunk boundaries.
func TestStoreUnalignedRegion(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			d := Dataset{Shape: []int{6, 6}, Chunks: []int{4, 4}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "vol", d); err != nil {
				t.Fatal(err)
			}
			// Write a 2x2 patch overlapping all four chunks.
			patch := []uint64{1, 2, 3, 4}
			if err := s.WriteRegion(ctx, "vol", []int{3, 3}, []int{5, 5}, patch); err != nil {
				t.Fatal(err)
			}
			back, err := s.ReadRegion(ctx, "vol", []int{3, 3}, []int{5, 5})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(back, patch) {
				t.Errorf("got %v, want %v", back, patch)
			}
			// Surrounding voxels are untouched zeros.
			row, err := s.ReadRegion(ctx, "vol", []int{2, 0}, []int{3, 6})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(row, make([]uint64, 6)) {
				t.Errorf("got %v, want zeros", row)
			}
		})
	}
}

// TestStoreReadUnwritten checks that regions never written read as
// zeros.
func TestStoreReadUnwritten(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			d := Dataset{Shape: []int{4}, Chunks: []int{2}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "empty", d); err != nil {
				t.Fatal(err)
			}
			data, err := s.ReadRegion(ctx, "empty", []int{0}, []int{4})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(data, make([]uint64, 4)) {
				t.Errorf("got %v, want zeros", data)
			}
		})
	}
}

func TestStoreCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			d := Dataset{Shape: []int{4}, Chunks: []int{2}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "vol", d); err != nil {
				t.Fatal(err)
			}
			if err := s.CreateDataset(ctx, "vol", d); err != nil {
				t.Errorf("re-create: %v", err)
			}
			mismatched := Dataset{Shape: []int{8}, Chunks: []int{2}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "vol", mismatched); err == nil {
				t.Error("expected shape mismatch error")
			}
		})
	}
}

func TestStoreMissingDataset(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Dataset(ctx, "ghost"); !errors.Is(errors.NotExist, err) {
				t.Errorf("got %v, want NotExist", err)
			}
			if _, err := s.ReadRegion(ctx, "ghost", []int{0}, []int{1}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStoreInvalidRegion(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			d := Dataset{Shape: []int{4, 4}, Chunks: []int{2, 2}, Dtype: "uint64"}
			if err := s.CreateDataset(ctx, "vol", d); err != nil {
				t.Fatal(err)
			}
			for _, c := range []struct{ begin, end []int }{
				{[]int{0}, []int{4}},
				{[]int{-1, 0}, []int{2, 2}},
				{[]int{0, 0}, []int{5, 4}},
				{[]int{2, 2}, []int{2, 4}},
			} {
				if _, err := s.ReadRegion(ctx, "vol", c.begin, c.end); err == nil {
					t.Errorf("read [%v,%v): expected error", c.begin, c.end)
				}
				data := make([]uint64, 4)
				if err := s.WriteRegion(ctx, "vol", c.begin, c.end, data); err == nil {
					t.Errorf("write [%v,%v): expected error", c.begin, c.end)
				}
			}
			// A correct region with a short buffer is also rejected.
			if err := s.WriteRegion(ctx, "vol", []int{0, 0}, []int{2, 2}, []uint64{1}); err == nil {
				t.Error("expected element count error")
			}
		})
	}
}

func TestStoreAttrs(t *testing.T) {
	ctx := context.Background()
	impls, cleanup := stores(t)
	defer cleanup()
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			// Attributes work on keys that are not datasets.
			if err := s.SetAttr(ctx, "group", "maxId", uint64(42)); err != nil {
				t.Fatal(err)
			}
			if err := s.SetAttr(ctx, "group", "resolution", []float64{4, 4, 40}); err != nil {
				t.Fatal(err)
			}
			var maxID uint64
			if err := s.Attr(ctx, "group", "maxId", &maxID); err != nil {
				t.Fatal(err)
			}
			if got, want := maxID, uint64(42); got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			var res []float64
			if err := s.Attr(ctx, "group", "resolution", &res); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(res, []float64{4, 4, 40}) {
				t.Errorf("got %v, want [4 4 40]", res)
			}
			if err := s.Attr(ctx, "group", "ghost", &maxID); !errors.Is(errors.NotExist, err) {
				t.Errorf("got %v, want NotExist", err)
			}
			// Overwriting an attribute replaces its value.
			if err := s.SetAttr(ctx, "group", "maxId", uint64(43)); err != nil {
				t.Fatal(err)
			}
			if err := s.Attr(ctx, "group", "maxId", &maxID); err != nil {
				t.Fatal(err)
			}
			if got, want := maxID, uint64(43); got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

// TestDirStoreCompression round-trips a dataset through each codec.
func TestDirStoreCompression(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "store")
	defer cleanup()
	for _, compression := range []string{"", "raw", "gzip", "lz4"} {
		t.Run(fmt.Sprintf("codec=%q", compression), func(t *testing.T) {
			s := Dir(dir)
			key := fmt.Sprintf("vol-%s", compression)
			d := Dataset{Shape: []int{4, 4}, Chunks: []int{2, 2}, Dtype: "uint64", Compression: compression}
			if err := s.CreateDataset(ctx, key, d); err != nil {
				t.Fatal(err)
			}
			data := make([]uint64, 16)
			for i := range data {
				data[i] = uint64(i * 1000)
			}
			if err := s.WriteRegion(ctx, key, []int{0, 0}, []int{4, 4}, data); err != nil {
				t.Fatal(err)
			}
			// Re-open the store to force chunk reads from disk.
			back, err := Dir(dir).ReadRegion(ctx, key, []int{0, 0}, []int{4, 4})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(back, data) {
				t.Errorf("got %v, want %v", back, data)
			}
		})
	}
}

func TestDirStoreUnknownCompression(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "store")
	defer cleanup()
	s := Dir(dir)
	d := Dataset{Shape: []int{4}, Chunks: []int{2}, Dtype: "uint64", Compression: "zstd"}
	if err := s.CreateDataset(ctx, "vol", d); err == nil {
		t.Error("expected unsupported codec error")
	}
}

// TestDirStorePersistence checks that a second handle over the same
// prefix sees data written by the first.
func TestDirStorePersistence(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "store")
	defer cleanup()
	first := Dir(dir)
	d := Dataset{Shape: []int{4}, Chunks: []int{2}, Dtype: "uint64"}
	if err := first.CreateDataset(ctx, "vol", d); err != nil {
		t.Fatal(err)
	}
	if err := first.WriteRegion(ctx, "vol", []int{1}, []int{3}, []uint64{7, 8}); err != nil {
		t.Fatal(err)
	}

	second := Dir(dir)
	meta, err := second.Dataset(ctx, "vol")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(meta.Shape, d.Shape) {
		t.Errorf("got shape %v, want %v", meta.Shape, d.Shape)
	}
	data, err := second.ReadRegion(ctx, "vol", []int{0}, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint64{0, 7, 8, 0}; !reflect.DeepEqual(data, want) {
		t.Errorf("got %v, want %v", data, want)
	}
}

func TestCopyRegion(t *testing.T) {
	// Copy the center of a 4x4 source into the corner of a 3x3
	// destination.
	src := make([]uint64, 16)
	for i := range src {
		src[i] = uint64(i)
	}
	dst := make([]uint64, 9)
	srcBox := box{begin: []int{0, 0}, end: []int{4, 4}}
	dstBox := box{begin: []int{1, 1}, end: []int{4, 4}}
	copyRegion(dst, dstBox, src, srcBox, box{begin: []int{1, 1}, end: []int{3, 3}})
	want := []uint64{
		5, 6, 0,
		9, 10, 0,
		0, 0, 0,
	}
	if !reflect.DeepEqual(dst, want) {
		t.Errorf("got %v, want %v", dst, want)
	}
}

func TestChunkRange(t *testing.T) {
	var visited [][]int
	err := chunkRange([]int{6, 6}, []int{4, 4}, []int{3, 3}, []int{5, 5}, func(idx []int, b box) error {
		visited = append(visited, append([]int{}, idx...))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if !reflect.DeepEqual(visited, want) {
		t.Errorf("got %v, want %v", visited, want)
	}
}
