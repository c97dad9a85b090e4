package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wjit/cmd/wjit/run"
	"github.com/pgavlin/wjit/cmd/wjit/stats"
)

var version = "<unknown>"

func configureCLI() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "wjit",
		Short:         "wjit WebAssembly baseline compiler",
		Long:          "wjit - a single-pass baseline JIT for a subset of WebAssembly 1.0",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCommand.AddCommand(run.Command())
	rootCommand.AddCommand(stats.Command())

	return rootCommand
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "internal compiler error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
