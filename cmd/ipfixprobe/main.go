// Command ipfixprobe captures network traffic, builds bidirectional
// flow records through a plugin pipeline, and exports them over IPFIX.
package main

import (
	"fmt"
	"os"

	"github.com/cesnet/ipfixprobe-go/cmd/ipfixprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ipfixprobe: %v\n", err)
		os.Exit(1)
	}
}
