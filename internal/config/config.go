// Package config resolves the agent's connection settings from flags,
// environment variables, and an optional on-disk YAML file, in that order
// of precedence, following the file-I/O shape of the teacher's session
// package but for a merged config instead of a resumable session.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xpose-agent/cli/internal/protocol"
)

// Config holds everything the session supervisor needs to connect.
type Config struct {
	Token            string
	Host             string
	Tunnel           string
	MaxBodySizeBytes int
}

// fileConfig is the on-disk YAML shape.
type fileConfig struct {
	Token            string `yaml:"token"`
	Host             string `yaml:"host"`
	Tunnel           string `yaml:"tunnel"`
	MaxBodySizeBytes int    `yaml:"maxBodySizeBytes"`
}

// Flags carries the raw flag values from cmd/root.go; an empty string or
// zero value means "not set on the command line" and falls through to the
// next source in the precedence chain. MaxBodySizeBytes is the one exception:
// an explicitly passed 0 (or negative) value is rejected by Resolve, so
// MaxBodySizeSet distinguishes "flag not passed" from "flag passed as 0" —
// cmd/root.go sets it from cobra's Flags().Changed("max-body-size").
type Flags struct {
	Token            string
	Host             string
	Tunnel           string
	ConfigPath       string
	MaxBodySizeBytes int
	MaxBodySizeSet   bool
}

// Resolve merges Flags with environment variables and an optional YAML
// config file, in that precedence order: flag > env > file. It returns an
// error naming the still-unset field if token, host, or tunnel can't be
// resolved from any source, or if host/tunnel fail validation.
func Resolve(flags Flags) (*Config, error) {
	fc, err := loadFile(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	if flags.MaxBodySizeSet && flags.MaxBodySizeBytes <= 0 {
		return nil, fmt.Errorf("config: invalid --max-body-size %d: must be a positive number of bytes", flags.MaxBodySizeBytes)
	}

	cfg := &Config{
		Token:            firstNonEmpty(flags.Token, os.Getenv("XPOSE_TOKEN"), fc.Token),
		Host:             firstNonEmpty(flags.Host, os.Getenv("XPOSE_HOST"), fc.Host),
		Tunnel:           firstNonEmpty(flags.Tunnel, os.Getenv("XPOSE_TUNNEL"), fc.Tunnel),
		MaxBodySizeBytes: firstPositive(flags.MaxBodySizeBytes, fc.MaxBodySizeBytes, protocol.DefaultMaxBodySizeBytes),
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("config: token is required (set --token, XPOSE_TOKEN, or token in config file)")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config: host is required (set --host, XPOSE_HOST, or host in config file)")
	}
	if cfg.Tunnel == "" {
		return nil, fmt.Errorf("config: tunnel is required (set --tunnel, XPOSE_TUNNEL, or tunnel in config file)")
	}
	if err := validateHost(cfg.Host); err != nil {
		return nil, err
	}
	if err := validateTunnel(cfg.Tunnel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateHost requires host to be an absolute http(s) URL (spec.md §6).
func validateHost(host string) error {
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("config: invalid --host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: invalid --host %q: must be an absolute http:// or https:// URL", host)
	}
	if u.Host == "" {
		return fmt.Errorf("config: invalid --host %q: missing authority", host)
	}
	return nil
}

// validateTunnel requires tunnel to be a bare authority, not a full URL.
func validateTunnel(tunnel string) error {
	if strings.Contains(tunnel, "://") {
		return fmt.Errorf("config: invalid --tunnel %q: expected a bare host[:port], not a URL", tunnel)
	}
	if tunnel == "" || strings.ContainsAny(tunnel, "/ ") {
		return fmt.Errorf("config: invalid --tunnel %q: expected a bare host[:port]", tunnel)
	}
	return nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/xpose-agent/config.yaml,
// falling back to os.UserConfigDir when XDG_CONFIG_HOME is unset.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "xpose-agent", "config.yaml"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "xpose-agent", "config.yaml"), nil
}

// loadFile reads and parses the YAML config file at path. A missing file at
// the default location is not an error — it just yields a zero-value
// fileConfig so lower-precedence sources are still consulted. An explicit
// --config path that doesn't exist is an error.
func loadFile(path string) (fileConfig, error) {
	explicit := path != ""
	if path == "" {
		def, err := DefaultConfigPath()
		if err != nil {
			return fileConfig{}, nil
		}
		path = def
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return fileConfig{}, nil
		}
		if os.IsNotExist(err) {
			return fileConfig{}, fmt.Errorf("config: --config file not found: %s", path)
		}
		return fileConfig{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return fc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
