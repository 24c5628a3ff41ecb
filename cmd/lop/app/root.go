package app

import (
	"github.com/spf13/cobra"
)

// NewLopCommand creates the root command for the lop fuzzer.
func NewLopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lop",
		Short: "A coverage-guided grey-box fuzzer.",
		Long:  `lop drives an instrumented fork-server target with mutated inputs, guided by the edges it observes.`,
	}

	cmd.AddCommand(NewFuzzCommand())

	return cmd
}
