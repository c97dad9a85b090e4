package exec

import "os"

// WASIStubs returns a minimal import table binding the two wasi_snapshot_preview1 functions a "hello world"-
// shaped C program compiled against WASI actually calls on its way to exit: fd_write (every libc printf/puts
// eventually bottoms out here) and proc_exit. Nothing else of WASI is implemented; a module importing any other
// wasi_snapshot_preview1 function will fail to resolve at Compile time the same as any other missing import.
func WASIStubs() ImportTable {
	t := ImportTable{}

	// fd_write ignores the iovec list entirely and reports zero bytes written: enough to let a program that
	// doesn't inspect the return value run to completion, not enough to actually produce output. A real iovec
	// walk needs linear-memory access this table has no way to reach, since host imports only see the raw
	// argument words, not a Memory handle.
	t.Bind("wasi_snapshot_preview1", "fd_write", func(fd, iovs, iovsLen, nwritten int32) int32 {
		return 0
	})

	t.Bind("wasi_snapshot_preview1", "proc_exit", func(code int32) {
		os.Exit(int(code))
	})

	return t
}
