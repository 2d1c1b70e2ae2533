package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/actionrpc/internal/protocol/frame"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

var (
	ErrInvalidSecurityMode     = errors.New("transport: invalid security mode")
	ErrTLSRequired             = errors.New("transport: tls required")
	ErrMTLSRequired            = errors.New("transport: mtls required")
	ErrTLSCertFileRequired     = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired       = errors.New("transport: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify not allowed")
	ErrUnknownLocalVersion     = errors.New("transport: local version is not in the version table")
)

// TLSConfig describes certificate material for one side of a connection.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines connect retry backoff.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config is shared by Client and Server.
type Config struct {
	NodeName string
	// Version is the protocol version this node advertises. Pinning it to
	// an older entry makes the node behave like a not-yet-upgraded peer.
	Version version.Version

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds idle time between frames on the server. Zero
	// disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Compression          bool
	CompressionThreshold int
	Limits               frame.Limits

	SecurityMode       SecurityMode
	TLS                TLSConfig
	Backoff            BackoffConfig
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		NodeName:             "node-0",
		Version:              version.Current,
		ConnectTimeout:       5 * time.Second,
		HandshakeTimeout:     5 * time.Second,
		WriteTimeout:         15 * time.Second,
		Compression:          true,
		CompressionThreshold: 1024,
		Limits:               frame.DefaultLimits(),
		SecurityMode:         SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxConnectAttempts: 5,
	}
}

func (c Config) validateCommon() error {
	if !c.Version.Known() {
		return fmt.Errorf("%w: %d", ErrUnknownLocalVersion, uint32(c.Version))
	}
	if c.Version.Before(version.Minimum) {
		return fmt.Errorf("%w: %s", version.ErrIncompatible, c.Version)
	}
	return nil
}

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func (c Config) ValidateClientTransport() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	if mode == SecurityModeProduction {
		if !c.TLS.Enabled {
			return ErrTLSRequired
		}
		if !c.TLS.Mutual {
			return ErrMTLSRequired
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

func (c Config) ValidateServerTransport() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	if mode == SecurityModeProduction {
		if !c.TLS.Enabled {
			return ErrTLSRequired
		}
		if !c.TLS.Mutual {
			return ErrMTLSRequired
		}
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Enabled {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}
