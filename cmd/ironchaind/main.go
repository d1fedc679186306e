// Command ironchaind is the process entrypoint: it loads configuration,
// wires storage/consensus/transport/metrics, and runs a node until
// signalled to stop.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "ironchaind"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(genesisCmd())
	rootCmd.AddCommand(peerCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
