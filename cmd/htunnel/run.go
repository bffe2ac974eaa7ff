package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyonisos/htunnel/internal/client"
	"github.com/dyonisos/htunnel/internal/logging"
)

var (
	runConfigPath  string
	runPort        int
	runMaxAttempts int
)

const (
	tunnelPath  = "/connect"
	defaultPort = 3000
)

// runTunnel is rootCmd's default action: `htunnel [port]` runs the
// tunnel client until interrupted, per spec.md §6's CLI surface.
func runTunnel(cmd *cobra.Command, args []string) {
	logging.Setup(os.Stderr, slog.LevelInfo)

	port := runPort
	if len(args) == 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("invalid port %q: %v", args[0], err)
		}
		port = p
	}

	dir := runConfigPath
	if dir == "" {
		dir = client.DefaultConfigDir()
	}

	cfg, err := client.LoadConfig(dir)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg == nil {
		log.Fatal("no edge configured: run `htunnel init <url>` first")
	}

	wsURL, err := edgeWebsocketURL(cfg.Domain)
	if err != nil {
		log.Fatalf("invalid configured domain %q: %v", cfg.Domain, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	c := client.New(wsURL, cfg.Domain, port, dir, runMaxAttempts)
	slog.Info("starting tunnel client", "edge", cfg.Domain, "port", port)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("tunnel client exited: %v", err)
	}
}

// edgeWebsocketURL rewrites the persisted http(s) edge domain into the
// ws(s) URL of its tunnel registration endpoint.
func edgeWebsocketURL(domain string) (string, error) {
	u, err := url.Parse(domain)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = tunnelPath
	return u.String(), nil
}

func init() {
	rootCmd.Flags().StringVar(&runConfigPath, "config-dir", "", "config directory (default: ~/.htunnel)")
	rootCmd.Flags().IntVar(&runPort, "port", defaultPort, "local port to forward to")
	rootCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "give up after this many failed reconnect attempts (0 = retry forever)")
}
