package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "htunnel [port]",
	Short: "Expose a local HTTP service through a tunnel edge",
	Long:  `htunnel connects a local service to a public edge server over a persistent tunnel, forwarding inbound requests to it.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runTunnel,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
