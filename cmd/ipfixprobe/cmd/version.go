package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cesnet/ipfixprobe-go/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print ipfixprobe's version and exit",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("%s\n", version.Version())
		},
	}
}
