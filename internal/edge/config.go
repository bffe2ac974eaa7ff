package edge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the edge server configuration.
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	TLS    TLSConfig    `yaml:"tls"`
	Tunnel TunnelConfig `yaml:"tunnel"`
}

// ListenConfig specifies the address the public HTTP listener binds on.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// TLSConfig controls TLS termination in front of the listener. Per
// spec.md §1, TLS termination is assumed to be performed upstream; this
// only exists so an operator can terminate locally in dev/test setups.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TunnelConfig controls the control channel endpoint and per-request
// behaviour.
type TunnelConfig struct {
	Path           string        `yaml:"path"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// defaultPort is the edge listener's default port absent PORT or config.
const defaultPort = "3001"

// LoadConfig reads and parses an edge configuration file. A missing
// file is not an error: sensible defaults apply, and PORT from the
// environment (spec.md §6) always overrides the listen address.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Listen: ListenConfig{Addr: ":" + defaultPort},
		Tunnel: TunnelConfig{
			Path:           "/connect",
			PingInterval:   15 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen.Addr = ":" + port
	}

	return cfg, nil
}
