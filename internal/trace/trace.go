// Package trace provides the WJIT_TRACE-gated diagnostic logger shared by the emitter and jit packages, mirroring
// the wasm package's own WASM_TRACE-gated decode trace.
package trace

import (
	"log"
	"os"
)

// Logger is a debug-only trace sink, silent unless WJIT_TRACE is set, so that compiling a module in production
// does not spam stderr with block-entry/register-allocation chatter.
type Logger struct {
	*log.Logger
	enabled bool
}

// New returns a Logger writing lines prefixed with name, gated by WJIT_TRACE.
func New(name string) *Logger {
	_, enabled := os.LookupEnv("WJIT_TRACE")
	return &Logger{Logger: log.New(os.Stderr, name+": ", 0), enabled: enabled}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	if l.enabled {
		l.Logger.Printf(format, args...)
	}
}

func (l *Logger) Println(args ...interface{}) {
	if l.enabled {
		l.Logger.Println(args...)
	}
}
