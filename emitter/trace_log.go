//go:build amd64
// +build amd64

package emitter

import "github.com/pgavlin/wjit/internal/trace"

var tracer = trace.New("emitter")
