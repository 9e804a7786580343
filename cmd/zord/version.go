package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "zord %s (%s)\n", strings.TrimSpace(version), runtime.Version())
			return err
		},
	}
}
