// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import "io"

// WriteVarUint32 writes v to w as an unsigned LEB128-encoded 32-bit integer, returning the number of bytes
// written.
func WriteVarUint32(w io.Writer, v uint32) (int, error) {
	return WriteVarUint64(w, uint64(v))
}

// WriteVarUint64 writes v to w as an unsigned LEB128-encoded 64-bit integer, returning the number of bytes
// written.
func WriteVarUint64(w io.Writer, v uint64) (int, error) {
	var buf [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if v == 0 {
			break
		}
	}
	return w.Write(buf[:n])
}

// WriteVarint32 writes v to w as a signed LEB128-encoded 32-bit integer, returning the number of bytes written.
func WriteVarint32(w io.Writer, v int32) (int, error) {
	return WriteVarint64(w, int64(v))
}

// WriteVarint64 writes v to w as a signed LEB128-encoded 64-bit integer, returning the number of bytes written.
func WriteVarint64(w io.Writer, v int64) (int, error) {
	var buf [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			buf[n] = b
			n++
			break
		}
		buf[n] = b | 0x80
		n++
	}
	return w.Write(buf[:n])
}
