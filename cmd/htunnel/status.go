package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/dyonisos/htunnel/internal/client"
)

var statusConfigPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current tunnel connection status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dir := statusConfigPath
		if dir == "" {
			dir = client.DefaultConfigDir()
		}

		cfg, err := client.LoadConfig(dir)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		domain := "(none)"
		if cfg != nil {
			domain = cfg.Domain
		}

		st, err := client.LoadStatus(dir)
		if err != nil {
			log.Fatalf("reading status: %v", err)
		}

		if !st.Connected {
			fmt.Printf("configured domain: %s\nstatus: not connected\n", domain)
			return
		}
		fmt.Printf("configured domain: %s\nstatus: connected, forwarding to port %d, up %s\n", domain, st.Port, client.FormatUptime(st))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusConfigPath, "config-dir", "", "config directory (default: ~/.htunnel)")
}
