package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	Version = "lstore 0.1.0"
)

func init() {
	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of lstore",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		})
}
