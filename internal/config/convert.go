package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/actionrpc/internal/protocol/version"
	"github.com/danmuck/actionrpc/internal/transport"
)

// TransportConfig maps the file settings onto transport.DefaultConfig.
func (c Config) TransportConfig() (transport.Config, error) {
	out := transport.DefaultConfig()
	out.NodeName = c.Node.Name
	if raw := strings.TrimSpace(c.Transport.CompatVersion); raw != "" {
		v, err := version.Parse(raw)
		if err != nil {
			return transport.Config{}, err
		}
		out.Version = v
	}
	out.Compression = c.Transport.Compression
	out.CompressionThreshold = c.Transport.CompressionThreshold
	out.Limits.MaxPayloadBytes = c.Transport.MaxPayloadBytes

	var err error
	if out.ReadTimeout, err = parseDuration(c.Transport.ReadTimeout); err != nil {
		return transport.Config{}, fmt.Errorf("read_timeout: %w", err)
	}
	if c.Transport.WriteTimeout != "" {
		if out.WriteTimeout, err = parseDuration(c.Transport.WriteTimeout); err != nil {
			return transport.Config{}, fmt.Errorf("write_timeout: %w", err)
		}
	}
	if c.Transport.HandshakeTimeout != "" {
		if out.HandshakeTimeout, err = parseDuration(c.Transport.HandshakeTimeout); err != nil {
			return transport.Config{}, fmt.Errorf("handshake_timeout: %w", err)
		}
	}

	out.SecurityMode = transport.NormalizeSecurityMode(transport.SecurityMode(c.Transport.SecurityMode))
	out.TLS = transport.TLSConfig{
		Enabled:  c.Transport.TLS.Enabled,
		Mutual:   c.Transport.TLS.Mutual,
		CertFile: strings.TrimSpace(c.Transport.TLS.CertFile),
		KeyFile:  strings.TrimSpace(c.Transport.TLS.KeyFile),
		CAFile:   strings.TrimSpace(c.Transport.TLS.CAFile),
	}
	return out, nil
}

// parseDuration treats an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
