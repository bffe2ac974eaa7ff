package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyonisos/htunnel/internal/client"
)

var initConfigPath string

var initCmd = &cobra.Command{
	Use:   "init <edge-url>",
	Short: "Save the edge server to tunnel through",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := initConfigPath
		if dir == "" {
			dir = client.DefaultConfigDir()
		}

		cfg, err := client.Init(dir, args[0], time.Now())
		if err != nil {
			log.Fatalf("init failed: %v", err)
		}
		fmt.Printf("Saved edge %s to %s\n", cfg.Domain, dir)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initConfigPath, "config-dir", "", "config directory (default: ~/.htunnel)")
}
