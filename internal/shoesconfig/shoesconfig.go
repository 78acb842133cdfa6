// Package shoesconfig loads a small TOML configuration describing one
// or more ShadowTLS listeners into shadowtls.Target values. Caddy loads
// a much richer JSON document through caddyconfig; this repo's surface
// is a handful of fields, so BurntSushi/toml decodes directly into
// plain structs with no adapter layer in between.
package shoesconfig

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/shoes-proxy/shoes/internal/proxyselector"
	"github.com/shoes-proxy/shoes/internal/tcpforward"
	"github.com/shoes-proxy/shoes/shadowtls"
)

// File is the top-level shape of a shoes.toml document.
type File struct {
	Listeners []ListenerConfig `toml:"listener"`
}

// ListenerConfig describes one ShadowTLS listener.
type ListenerConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`

	// Mode selects the handshake variant: "remote" (default) proxies the
	// TLS handshake to CoverAddress; "local" terminates it here using
	// CertFile/KeyFile.
	Mode         string `toml:"mode"`
	CoverAddress string `toml:"cover_address"`
	CertFile     string `toml:"cert_file"`
	KeyFile      string `toml:"key_file"`

	ForwardTargets []string `toml:"forward_targets"`
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shoesconfig: reading %s: %w", path, err)
	}

	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("shoesconfig: parsing %s: %w", path, err)
	}
	if len(f.Listeners) == 0 {
		return nil, fmt.Errorf("shoesconfig: %s declares no [[listener]] entries", path)
	}
	return &f, nil
}

// ConnectionID mints a fresh correlation id for a single accepted
// connection, attached to every log line the listener emits for it.
func ConnectionID() string {
	return uuid.NewString()
}

// BuildTarget turns one ListenerConfig into a fully wired shadowtls.Target.
func BuildTarget(cfg ListenerConfig) (*shadowtls.Target, error) {
	if cfg.Password == "" {
		return nil, fmt.Errorf("shoesconfig: listener %s needs a password", cfg.Address)
	}
	if len(cfg.ForwardTargets) == 0 {
		return nil, fmt.Errorf("shoesconfig: listener %s needs at least one forward_targets entry", cfg.Address)
	}

	locations := make([]shadowtls.NetLocation, 0, len(cfg.ForwardTargets))
	for _, t := range cfg.ForwardTargets {
		loc, err := parseLocation(t)
		if err != nil {
			return nil, fmt.Errorf("shoesconfig: listener %s: %w", cfg.Address, err)
		}
		locations = append(locations, loc)
	}
	handler, err := tcpforward.New(locations)
	if err != nil {
		return nil, fmt.Errorf("shoesconfig: listener %s: %w", cfg.Address, err)
	}

	handshake, err := buildHandshake(cfg)
	if err != nil {
		return nil, err
	}

	return shadowtls.NewTarget(cfg.Password, handshake, handler, shadowtls.NoProxyProviderOverride()), nil
}

func buildHandshake(cfg ListenerConfig) (shadowtls.HandshakeConfig, error) {
	switch cfg.Mode {
	case "", "remote":
		cover, err := parseLocation(cfg.CoverAddress)
		if err != nil {
			return nil, fmt.Errorf("shoesconfig: listener %s: %w", cfg.Address, err)
		}
		return &shadowtls.RemoteHandshake{
			Location:   cover,
			Connectors: []shadowtls.Connector{proxyselector.NewDirectConnector()},
		}, nil
	case "local":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("shoesconfig: listener %s: loading certificate: %w", cfg.Address, err)
		}
		return shadowtls.LocalHandshake{
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS13,
			},
		}, nil
	default:
		return nil, fmt.Errorf("shoesconfig: listener %s: unknown mode %q", cfg.Address, cfg.Mode)
	}
}

func parseLocation(s string) (shadowtls.NetLocation, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return shadowtls.NetLocation{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return shadowtls.NetLocation{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return shadowtls.NetLocation{Host: host, Port: port}, nil
}
