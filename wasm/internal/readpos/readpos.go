// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package readpos provides an io.Reader wrapper that tracks the current read
// position, so that decode errors can be reported against a byte offset in
// the input.
package readpos

import "io"

// ReadPos wraps an io.Reader, tracking the number of bytes consumed so far.
type ReadPos struct {
	R      io.Reader
	CurPos int64
}

// Read implements io.Reader.
func (r *ReadPos) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	r.CurPos += int64(n)
	return n, err
}

// ReadByte implements io.ByteReader.
func (r *ReadPos) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
