package run

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wjit/exec"
	"github.com/pgavlin/wjit/jit"
	"github.com/pgavlin/wjit/load"
)

// parseArg parses one command-line literal as either an i32 or an i64, matching the integer-only argument
// surface this subset's translator actually compiles: functions taking or returning floats are loaded and
// compiled the same as any other export, but there is no literal syntax here for passing one in from the shell.
func parseArg(s string) (uint64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q is not an integer literal: %w", s, err)
	}
	return uint64(v), nil
}

func Command() *cobra.Command {
	var stubWASI bool
	var spillSize int

	command := &cobra.Command{
		Use:   "run [path to module] [function] [args...]",
		Short: "Compile and run an exported function",
		Long:  "Compile a WebAssembly module and invoke one of its exported functions, printing the result and exiting with its low 32 bits as the process exit code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("expected a module path and an exported function name")
			}

			m, err := load.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}

			var imports exec.ImportTable
			if stubWASI {
				imports = exec.WASIStubs()
			}

			cm, err := jit.Compile(m, imports)
			if err != nil {
				return fmt.Errorf("compiling %s: %w", args[0], err)
			}
			defer cm.Release()

			callArgs := make([]uint64, len(args)-2)
			for i, a := range args[2:] {
				v, err := parseArg(a)
				if err != nil {
					return err
				}
				callArgs[i] = v
			}

			machine := cm.NewMachine(spillSize)
			result, err := cm.Invoke(machine, args[1], callArgs...)
			if err != nil {
				return fmt.Errorf("running %s: %w", args[1], err)
			}

			fmt.Printf("%d\n", int64(result))
			os.Exit(int(int32(result)))
			return nil
		},
	}

	command.Flags().BoolVar(&stubWASI, "stub-wasi", false, "bind a minimal wasi_snapshot_preview1 import table (fd_write, proc_exit) instead of failing on unresolved host imports")
	command.Flags().IntVar(&spillSize, "spill-size", exec.DefaultSpillAreaSize, "size in bytes of the machine's spill area")

	return command
}
