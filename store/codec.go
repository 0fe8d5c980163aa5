// Copyright 2019 Voxelbio, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/pierrec/lz4"
)

// A codec encodes a chunk's values into the bytes stored in its
// chunk file. Values are little-endian uint64s under the named
// compression.
type codec struct {
	wrapWriter func(io.Writer) io.WriteCloser
	wrapReader func(io.Reader) io.Reader
}

func (c codec) encode(chunk []uint64) []byte {
	var buf bytes.Buffer
	w := c.wrapWriter(&buf)
	// Writes to a buffer cannot fail.
	_ = binary.Write(w, binary.LittleEndian, chunk)
	_ = w.Close()
	return buf.Bytes()
}

func (c codec) decode(p []byte, size int) ([]uint64, error) {
	raw, err := ioutil.ReadAll(c.wrapReader(bytes.NewReader(p)))
	if err != nil {
		return nil, err
	}
	if len(raw) != 8*size {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("store: chunk holds %d bytes, want %d", len(raw), 8*size))
	}
	chunk := make([]uint64, size)
	for i := range chunk {
		chunk[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	return chunk, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var codecs = map[string]codec{
	"raw": {
		wrapWriter: func(w io.Writer) io.WriteCloser { return nopWriteCloser{w} },
		wrapReader: func(r io.Reader) io.Reader { return r },
	},
	"gzip": {
		wrapWriter: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		wrapReader: func(r io.Reader) io.Reader {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return errReader{err}
			}
			return zr
		},
	},
	"lz4": {
		wrapWriter: func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) },
		wrapReader: func(r io.Reader) io.Reader { return lz4.NewReader(r) },
	},
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// lookupCodec resolves a compression name; the empty name selects
// gzip, matching the defaults of the datasets produced upstream.
func lookupCodec(name string) (codec, error) {
	if name == "" {
		name = "gzip"
	}
	c, ok := codecs[name]
	if !ok {
		return codec{}, errors.E(errors.NotSupported, fmt.Sprintf("store: unknown compression %q", name))
	}
	return c, nil
}
