package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/dyonisos/htunnel/internal/edge"
	"github.com/dyonisos/htunnel/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/edge.yaml", "path to edge configuration file")
	flag.Parse()

	logging.Setup(os.Stderr, slog.LevelInfo)

	cfg, err := edge.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	server := edge.NewServer(cfg)
	if err := server.Run(); err != nil {
		slog.Error("edge server exited with error", "err", err)
		os.Exit(1)
	}
}
