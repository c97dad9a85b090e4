// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import (
	"io"
)

type byteReader interface {
	ReadByte() (byte, error)
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}

func asByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

// ReadVarUint32 reads an unsigned LEB128-encoded 32-bit integer from r.
func ReadVarUint32(r io.Reader) (uint32, error) {
	br := asByteReader(r)

	var result uint32
	var shift uint
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadVarint32 reads a signed LEB128-encoded 32-bit integer from r.
func ReadVarint32(r io.Reader) (int32, error) {
	v, err := ReadVarint64(r)
	return int32(v), err
}

// ReadVarint64 reads a signed LEB128-encoded 64-bit integer from r.
func ReadVarint64(r io.Reader) (int64, error) {
	br := asByteReader(r)

	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = br.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// ReadVarUint64 reads an unsigned LEB128-encoded 64-bit integer from r.
func ReadVarUint64(r io.Reader) (uint64, error) {
	br := asByteReader(r)

	var result uint64
	var shift uint
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// GetVarUint32 decodes an unsigned LEB128-encoded 32-bit integer from the front of body, returning the decoded
// value along with the number of bytes consumed.
func GetVarUint32(body []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(body); i++ {
		b := body[i]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, io.ErrUnexpectedEOF
}

// GetVarint32 decodes a signed LEB128-encoded 32-bit integer from the front of body, returning the decoded value
// along with the number of bytes consumed.
func GetVarint32(body []byte) (int32, int, error) {
	v, n, err := GetVarint64(body)
	return int32(v), n, err
}

// GetVarint64 decodes a signed LEB128-encoded 64-bit integer from the front of body, returning the decoded value
// along with the number of bytes consumed.
func GetVarint64(body []byte) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(body); i++ {
		b := body[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, io.ErrUnexpectedEOF
}

// GetVarUint64 decodes an unsigned LEB128-encoded 64-bit integer from the front of body, returning the decoded
// value along with the number of bytes consumed.
func GetVarUint64(body []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(body); i++ {
		b := body[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, io.ErrUnexpectedEOF
}
