// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration management for the exproto gateway:
// listeners, the backend handler and adapter endpoints, authentication and
// logging.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/turtacn/exproto-go/pkg/auth"
	"github.com/turtacn/exproto-go/pkg/blacklist"
	"gopkg.in/yaml.v2"
)

// Listener types.
const (
	ListenerTCP = "tcp"
	ListenerTLS = "tls"
	ListenerUDP = "udp"
)

// UserConfig represents a user configuration entry
type UserConfig struct {
	Username  string `yaml:"username" json:"username" toml:"username"`
	Password  string `yaml:"password" json:"password" toml:"password"`
	Algorithm string `yaml:"algorithm" json:"algorithm" toml:"algorithm"`
	Enabled   bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Superuser bool   `yaml:"superuser" json:"superuser" toml:"superuser"`
}

// AuthConfig represents the authentication configuration
type AuthConfig struct {
	Enabled        bool         `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowAnonymous bool         `yaml:"allow_anonymous" json:"allow_anonymous" toml:"allow_anonymous"`
	Users          []UserConfig `yaml:"users" json:"users" toml:"users"`
}

// BannedConfig is one entry of the ban list. Until is an RFC 3339 time;
// empty bans forever.
type BannedConfig struct {
	Type    string `yaml:"type" json:"type" toml:"type"`
	Value   string `yaml:"value" json:"value" toml:"value"`
	Pattern string `yaml:"pattern" json:"pattern" toml:"pattern"`
	Reason  string `yaml:"reason" json:"reason" toml:"reason"`
	Until   string `yaml:"until" json:"until" toml:"until"`
}

// ListenerConfig describes one socket listener.
type ListenerConfig struct {
	Name       string `yaml:"name" json:"name" toml:"name"`
	Type       string `yaml:"type" json:"type" toml:"type"`
	Bind       string `yaml:"bind" json:"bind" toml:"bind"`
	CertFile   string `yaml:"certfile" json:"certfile" toml:"certfile"`
	KeyFile    string `yaml:"keyfile" json:"keyfile" toml:"keyfile"`
	CACertFile string `yaml:"cacertfile" json:"cacertfile" toml:"cacertfile"`
	VerifyPeer bool   `yaml:"verify_peer" json:"verify_peer" toml:"verify_peer"`
	// FailIfNoPeerCert rejects clients without a certificate when
	// VerifyPeer is set.
	FailIfNoPeerCert bool `yaml:"fail_if_no_peer_cert" json:"fail_if_no_peer_cert" toml:"fail_if_no_peer_cert"`
	// IdleTimeout closes UDP peers that stay silent this long, e.g. "30s".
	IdleTimeout string `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
}

// IdleTimeoutDuration parses IdleTimeout. Empty means no timeout.
func (l ListenerConfig) IdleTimeoutDuration() (time.Duration, error) {
	return parseDuration(l.IdleTimeout)
}

// HandlerConfig points at the backend ConnectionHandler service.
type HandlerConfig struct {
	Address string `yaml:"address" json:"address" toml:"address"`
	Timeout string `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// TimeoutDuration parses Timeout. Empty means no timeout.
func (h HandlerConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(h.Timeout)
}

// AdapterConfig is where the ConnectionAdapter service listens.
type AdapterConfig struct {
	Bind string `yaml:"bind" json:"bind" toml:"bind"`
}

// GatewayConfig holds the gateway settings.
type GatewayConfig struct {
	NodeID     string `yaml:"node_id" json:"node_id" toml:"node_id"`
	Mountpoint string `yaml:"mountpoint" json:"mountpoint" toml:"mountpoint"`
	// MaxPending pauses a connection's reader once this many backend calls
	// are queued. 0 disables the limit.
	MaxPending  int              `yaml:"max_pending" json:"max_pending" toml:"max_pending"`
	InboxSize   int              `yaml:"inbox_size" json:"inbox_size" toml:"inbox_size"`
	Listeners   []ListenerConfig `yaml:"listeners" json:"listeners" toml:"listeners"`
	Handler     HandlerConfig    `yaml:"handler" json:"handler" toml:"handler"`
	Adapter     AdapterConfig    `yaml:"adapter" json:"adapter" toml:"adapter"`
	MetricsPort string           `yaml:"metrics_port" json:"metrics_port" toml:"metrics_port"`
	Auth        AuthConfig       `yaml:"auth" json:"auth" toml:"auth"`
	Banned      []BannedConfig   `yaml:"banned" json:"banned" toml:"banned"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level   string `yaml:"level" json:"level" toml:"level"`
	Format  string `yaml:"format" json:"format" toml:"format"`
	NoColor bool   `yaml:"no_color" json:"no_color" toml:"no_color"`
}

// Config holds the complete configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" json:"gateway" toml:"gateway"`
	Log     LogConfig     `yaml:"log" json:"log" toml:"log"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			NodeID:    "exproto-go-node",
			InboxSize: 1000,
			Listeners: []ListenerConfig{
				{Name: "default", Type: ListenerTCP, Bind: ":7993"},
			},
			Handler: HandlerConfig{
				Address: "127.0.0.1:9001",
				Timeout: "5s",
			},
			Adapter:     AdapterConfig{Bind: ":9100"},
			MetricsPort: ":9101",
			Auth: AuthConfig{
				Enabled:        false,
				AllowAnonymous: true,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML, JSON or TOML file. Settings
// missing from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		slog.Info("no config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := &Config{}
	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		return nil, unsupportedFormat(ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("configuration loaded", "path", configPath)
	return config, nil
}

// SaveConfig writes config in the format given by the file extension.
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(config)
		data = buf.Bytes()
	default:
		return unsupportedFormat(ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}

func unsupportedFormat(ext string) error {
	return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
}

func applyDefaults(c *Config) {
	def := DefaultConfig()
	g := &c.Gateway
	if g.NodeID == "" {
		g.NodeID = def.Gateway.NodeID
	}
	if g.InboxSize == 0 {
		g.InboxSize = def.Gateway.InboxSize
	}
	if len(g.Listeners) == 0 {
		g.Listeners = def.Gateway.Listeners
	}
	for i := range g.Listeners {
		if g.Listeners[i].Type == "" {
			g.Listeners[i].Type = ListenerTCP
		}
		if g.Listeners[i].Name == "" {
			g.Listeners[i].Name = fmt.Sprintf("%s-%d", g.Listeners[i].Type, i)
		}
	}
	if g.Handler.Address == "" {
		g.Handler.Address = def.Gateway.Handler.Address
	}
	if g.Handler.Timeout == "" {
		g.Handler.Timeout = def.Gateway.Handler.Timeout
	}
	if g.Adapter.Bind == "" {
		g.Adapter.Bind = def.Gateway.Adapter.Bind
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func validateConfig(config *Config) error {
	g := config.Gateway
	if g.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}
	if g.MaxPending < 0 {
		return fmt.Errorf("max_pending cannot be negative")
	}
	if g.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive")
	}
	if len(g.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	names := make(map[string]bool)
	for _, l := range g.Listeners {
		if names[l.Name] {
			return fmt.Errorf("duplicate listener name: %s", l.Name)
		}
		names[l.Name] = true
		if l.Bind == "" {
			return fmt.Errorf("listener %s: bind cannot be empty", l.Name)
		}
		switch l.Type {
		case ListenerTCP, ListenerUDP:
		case ListenerTLS:
			if l.CertFile == "" || l.KeyFile == "" {
				return fmt.Errorf("listener %s: certfile and keyfile are required for tls", l.Name)
			}
			if l.VerifyPeer && l.CACertFile == "" {
				return fmt.Errorf("listener %s: cacertfile is required with verify_peer", l.Name)
			}
		default:
			return fmt.Errorf("listener %s: unsupported type: %s (supported: tcp, tls, udp)", l.Name, l.Type)
		}
		if _, err := l.IdleTimeoutDuration(); err != nil {
			return fmt.Errorf("listener %s: idle_timeout: %w", l.Name, err)
		}
	}

	if _, err := g.Handler.TimeoutDuration(); err != nil {
		return fmt.Errorf("handler timeout: %w", err)
	}

	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s (supported: text, json)", config.Log.Format)
	}

	if _, err := config.Blacklist(); err != nil {
		return err
	}

	usernames := make(map[string]bool)
	for i, user := range g.Auth.Users {
		if user.Username == "" {
			return fmt.Errorf("user %d: username cannot be empty", i)
		}
		if usernames[user.Username] {
			return fmt.Errorf("duplicate username: %s", user.Username)
		}
		usernames[user.Username] = true

		if user.Password == "" {
			return fmt.Errorf("user %s: password cannot be empty", user.Username)
		}
		switch auth.HashAlgorithm(user.Algorithm) {
		case auth.HashPlain, auth.HashSHA256, auth.HashBcrypt:
		default:
			return fmt.Errorf("user %s: unsupported algorithm: %s (supported: plain, sha256, bcrypt)", user.Username, user.Algorithm)
		}
	}
	return nil
}

// ConfigureAuth rebuilds authChain from the auth section.
func (c *Config) ConfigureAuth(authChain *auth.AuthChain) error {
	authChain.Clear()

	if !c.Gateway.Auth.Enabled {
		authChain.SetEnabled(false)
		slog.Info("authentication disabled by configuration")
		return nil
	}
	authChain.SetEnabled(true)

	memAuth := auth.NewMemoryAuthenticator()
	for _, u := range c.Gateway.Auth.Users {
		if err := memAuth.AddUser(u.Username, u.Password, auth.HashAlgorithm(u.Algorithm)); err != nil {
			return fmt.Errorf("failed to add user %s: %w", u.Username, err)
		}
		if err := memAuth.SetUserEnabled(u.Username, u.Enabled); err != nil {
			return fmt.Errorf("failed to set user %s enabled status: %w", u.Username, err)
		}
		if err := memAuth.SetSuperuser(u.Username, u.Superuser); err != nil {
			return fmt.Errorf("failed to set user %s superuser flag: %w", u.Username, err)
		}
	}

	authChain.AddAuthenticator(memAuth)
	slog.Info("authentication configured", "users", len(c.Gateway.Auth.Users))
	return nil
}

// Blacklist builds the ban list from the banned section.
func (c *Config) Blacklist() (*blacklist.List, error) {
	list := blacklist.New(time.Minute)
	for i, b := range c.Gateway.Banned {
		e := blacklist.Entry{
			Kind:    blacklist.Kind(b.Type),
			Value:   b.Value,
			Pattern: b.Pattern,
			Reason:  b.Reason,
		}
		if b.Until != "" {
			until, err := time.Parse(time.RFC3339, b.Until)
			if err != nil {
				return nil, fmt.Errorf("banned %d: until: %w", i, err)
			}
			e.ExpiresAt = until
		}
		if err := list.Add(e); err != nil {
			return nil, fmt.Errorf("banned %d: %w", i, err)
		}
	}
	return list, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
