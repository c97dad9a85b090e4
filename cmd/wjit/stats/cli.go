package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"

	"github.com/pgavlin/wjit/jit"
	"github.com/pgavlin/wjit/load"
	"github.com/pgavlin/wjit/wasm/code"
)

// row is one line of per-function compilation output: how big the function was going in (body bytes, decoded
// instruction count) and how big it came out (emitted machine code bytes), for eyeballing which functions in a
// module dominate the compiled image.
type row struct {
	Funcidx          int `csv:"funcidx"`
	BodySize         int `csv:"body size"`
	InstructionCount int `csv:"instruction count"`
	MaxStackDepth    int `csv:"max stack"`
	MaxNesting       int `csv:"max nesting"`
	CodeSize         int `csv:"emitted code size"`
}

func Command() *cobra.Command {
	command := &cobra.Command{
		Use:   "stats [path to module]",
		Short: "Emit per-function compilation statistics as CSV",
		Long:  "Compile a WebAssembly module and print one CSV row per defined function describing its decoded body and emitted machine code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			m, err := load.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}

			cm, err := jit.Compile(m, nil)
			if err != nil {
				return fmt.Errorf("compiling %s: %w", args[0], err)
			}
			defer cm.Release()

			if m.Function == nil || m.Code == nil {
				return nil
			}

			scope := code.NewStaticScope(m)
			importedFuncs := len(scope.ImportedFunctions)

			csvWriter := csv.NewWriter(os.Stdout)
			defer csvWriter.Flush()
			encoder := csvutil.NewEncoder(csvWriter)

			for i, typeidx := range m.Function.Types {
				sig := m.Types.Entries[typeidx]
				body := m.Code.Bodies[i]
				scope.SetFunction(sig, body)

				decoded, err := code.Decode(body.Code, scope, sig.ReturnTypes)
				if err != nil {
					return fmt.Errorf("decoding function %d: %w", importedFuncs+i, err)
				}

				funcIdx := uint32(importedFuncs + i)
				r := row{
					Funcidx:          int(funcIdx),
					BodySize:         len(body.Code),
					InstructionCount: len(decoded.Instructions),
					MaxStackDepth:    decoded.Metrics.MaxStackDepth,
					MaxNesting:       decoded.Metrics.MaxNesting,
					CodeSize:         int(cm.CodeSize(funcIdx)),
				}
				if err := encoder.Encode(&r); err != nil {
					return err
				}
			}

			return nil
		},
	}

	return command
}
