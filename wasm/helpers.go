// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"os"

	"github.com/pgavlin/wjit/wasm/leb128"
)

// logger is a debug-only trace of the decode process; it is silent unless WASM_TRACE is set so that decoding a
// malformed module in production does not spam stderr.
var logger = newTraceLogger()

type traceLogger struct {
	*log.Logger
	enabled bool
}

func newTraceLogger() *traceLogger {
	_, enabled := os.LookupEnv("WASM_TRACE")
	return &traceLogger{Logger: log.New(os.Stderr, "wasm: ", 0), enabled: enabled}
}

func (l *traceLogger) Printf(format string, args ...interface{}) {
	if l.enabled {
		l.Logger.Printf(format, args...)
	}
}

func (l *traceLogger) Println(args ...interface{}) {
	if l.enabled {
		l.Logger.Println(args...)
	}
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readBytes(r io.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readBytesUint(r io.Reader) ([]byte, error) {
	n, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	return readBytes(r, n)
}

func writeBytesUint(w io.Writer, b []byte) error {
	if _, err := leb128.WriteVarUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readUTF8StringUint(r io.Reader) (string, error) {
	b, err := readBytesUint(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeStringUint(w io.Writer, s string) error {
	return writeBytesUint(w, []byte(s))
}

// getInitialCap bounds the pre-allocated capacity of a slice decoded from an untrusted count field, so that a
// corrupt module cannot force an enormous allocation before the elements are actually read.
func getInitialCap(count uint32) uint32 {
	const maxInitialCap = 4096
	if count > maxInitialCap {
		return maxInitialCap
	}
	return count
}

// readInitExpr reads a constant initializer expression, as used by global, element, and data segment
// declarations. It supports exactly the opcodes the MVP constant-expression grammar permits:
// i32.const, i64.const, f32.const, f64.const, global.get, and the terminating end.
func readInitExpr(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer

	for {
		var op [1]byte
		if _, err := io.ReadFull(r, op[:]); err != nil {
			return nil, err
		}
		buf.WriteByte(op[0])

		switch op[0] {
		case 0x0b: // end
			return buf.Bytes(), nil
		case 0x41: // i32.const
			if err := copyVarint(&buf, r); err != nil {
				return nil, err
			}
		case 0x42: // i64.const
			if err := copyVarint(&buf, r); err != nil {
				return nil, err
			}
		case 0x43: // f32.const
			b, err := readBytes(r, 4)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		case 0x44: // f64.const
			b, err := readBytes(r, 8)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		case 0x23: // global.get
			if err := copyVarUint(&buf, r); err != nil {
				return nil, err
			}
		default:
			return nil, InvalidInitExprOpError(op[0])
		}
	}
}

func copyVarint(buf *bytes.Buffer, r io.Reader) error {
	for {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		buf.WriteByte(b[0])
		if b[0]&0x80 == 0 {
			return nil
		}
	}
}

func copyVarUint(buf *bytes.Buffer, r io.Reader) error {
	return copyVarint(buf, r)
}
