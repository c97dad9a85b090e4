package jit

import "github.com/pgavlin/wjit/internal/trace"

var tracer = trace.New("jit")
