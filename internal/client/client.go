package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultPingInterval is the client's keepalive cadence; the edge pings
// on its own configured interval (15s by default). Both ends ping
// independently so either side notices a dead socket.
const defaultPingInterval = 20 * time.Second

// Client ties the dispatcher, tunnel handshake, and reconnect
// controller together into the single long-running process started by
// the CLI's default run command, per spec.md §4.3 and §4.4.
type Client struct {
	edgeURL       string
	displayDomain string
	port          int
	dispatcher    *Dispatcher
	controller    *Controller

	statusDir string
}

// New builds a client bound to the given edge control-channel URL and
// local backend port. displayDomain is the http(s) edge domain as
// persisted in config.json, used for status.json's domain field so the
// two files agree; statusDir is where status.json is persisted for the
// `status` CLI command, empty disables status persistence. maxAttempts
// is forwarded to the reconnect controller verbatim; 0 means retry
// forever, per spec.md §4.4's configurable max_attempts.
func New(edgeURL, displayDomain string, port int, statusDir string, maxAttempts int) *Client {
	return &Client{
		edgeURL:       edgeURL,
		displayDomain: displayDomain,
		port:          port,
		dispatcher:    NewDispatcher(fmt.Sprintf("http://127.0.0.1:%d", port)),
		controller:    NewController(maxAttempts),
		statusDir:     statusDir,
	}
}

// Run connects to the edge, forwards traffic until the tunnel drops,
// and reconnects with backoff, blocking until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer c.clearStatus()

	return c.controller.Run(ctx, func(ctx context.Context) (opened bool, err error) {
		tunnel, err := Connect(ctx, c.edgeURL, c.port, defaultPingInterval, c.dispatcher)
		if err != nil {
			return false, fmt.Errorf("connecting to edge: %w", err)
		}

		slog.Info("tunnel established", "edge", c.edgeURL, "port", c.port)
		c.saveStatus()

		// cancelling ctx while connected closes the tunnel, so Run
		// returns and the controller stops without reconnecting.
		stop := context.AfterFunc(ctx, tunnel.Close)
		err = tunnel.Run()
		stop()
		c.clearStatus()
		return true, err
	})
}

func (c *Client) saveStatus() {
	if c.statusDir == "" {
		return
	}
	st := &StatusFile{
		Connected:   true,
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
		Port:        c.port,
		Domain:      c.displayDomain,
	}
	if err := SaveStatus(c.statusDir, st); err != nil {
		slog.Warn("failed to persist status", "err", err)
	}
}

func (c *Client) clearStatus() {
	if c.statusDir == "" {
		return
	}
	if err := ClearStatus(c.statusDir); err != nil {
		slog.Warn("failed to clear status", "err", err)
	}
}
