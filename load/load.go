package load

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pgavlin/wjit/wasm"
)

// LoadModule decodes a WASM module in the standard binary encoding from r.
func LoadModule(r io.Reader) (*wasm.Module, error) {
	br := bufio.NewReader(r)

	buf, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading module header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf)

	if magic != wasm.Magic {
		return nil, wasm.ErrInvalidMagic
	}

	return wasm.DecodeModule(br)
}

// LoadFile opens the file at path and decodes it as a WASM binary module.
func LoadFile(path string) (*wasm.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadModule(f)
}
