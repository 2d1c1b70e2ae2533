// Package config loads the node configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/actionrpc/internal/protocol/version"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Node      NodeConfig      `toml:"node"`
	Transport TransportConfig `toml:"transport"`
	Admin     AdminConfig     `toml:"admin"`
}

type NodeConfig struct {
	Name string `toml:"name"`
	// Fixtures points at an optional TOML file of models and sync jobs
	// preloaded into the in-memory stores.
	Fixtures string `toml:"fixtures"`
}

// TransportConfig holds the action listener settings. Durations are Go
// duration strings.
type TransportConfig struct {
	Addr string `toml:"addr"`
	// CompatVersion pins the advertised protocol version, by name or id.
	// Empty means the current version.
	CompatVersion        string    `toml:"compat_version"`
	Compression          bool      `toml:"compression"`
	CompressionThreshold int       `toml:"compression_threshold"`
	MaxPayloadBytes      uint64    `toml:"max_payload_bytes"`
	ReadTimeout          string    `toml:"read_timeout"`
	WriteTimeout         string    `toml:"write_timeout"`
	HandshakeTimeout     string    `toml:"handshake_timeout"`
	SecurityMode         string    `toml:"security_mode"`
	TLS                  TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func Default() Config {
	return Config{
		Node: NodeConfig{Name: "actiond"},
		Transport: TransportConfig{
			Addr:                 ":9300",
			Compression:          true,
			CompressionThreshold: 1024,
			MaxPayloadBytes:      8 * 1024 * 1024,
			WriteTimeout:         "15s",
			HandshakeTimeout:     "5s",
			SecurityMode:         "development",
		},
		Admin: AdminConfig{Addr: ":9200"},
	}
}

// Load reads path over Default. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Node.Name) == "" {
		return fmt.Errorf("%w: node.name is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Transport.Addr) == "" {
		return fmt.Errorf("%w: transport.addr is required", ErrInvalid)
	}
	if c.Transport.CompressionThreshold < 0 {
		return fmt.Errorf("%w: transport.compression_threshold must not be negative", ErrInvalid)
	}
	if c.Transport.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: transport.max_payload_bytes must be positive", ErrInvalid)
	}
	if v := strings.TrimSpace(c.Transport.CompatVersion); v != "" {
		parsed, err := version.Parse(v)
		if err != nil {
			return fmt.Errorf("%w: transport.compat_version: %v", ErrInvalid, err)
		}
		if !parsed.Known() {
			return fmt.Errorf("%w: transport.compat_version %q is not a declared version", ErrInvalid, v)
		}
	}
	for _, field := range []struct {
		name, raw string
	}{
		{"transport.read_timeout", c.Transport.ReadTimeout},
		{"transport.write_timeout", c.Transport.WriteTimeout},
		{"transport.handshake_timeout", c.Transport.HandshakeTimeout},
	} {
		if _, err := parseDuration(field.raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, field.name, err)
		}
	}
	return nil
}
