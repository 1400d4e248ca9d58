// Package config loads the server configuration from a YAML file, applies
// environment overrides, and parses command flags. Flags win over env,
// env wins over file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Presence PresenceConfig `yaml:"presence"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listen and TLS settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
	// AllowedOrigins gates websocket upgrades from cross-host browsers.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig holds the embedded store location.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// AuthConfig holds the token signing keys the verifier accepts. List old
// and new keys together during rotation.
type AuthConfig struct {
	SigningKeys []string `yaml:"signing_keys"`
}

// ChatConfig bounds message payloads and pages.
type ChatConfig struct {
	// MaxMessageSize accepts humanized byte sizes, e.g. "64 KB".
	MaxMessageSize string `yaml:"max_message_size"`
	DefaultPage    int    `yaml:"default_page_size"`
}

// PresenceConfig drives the idle sweeper.
type PresenceConfig struct {
	SweepEnabled bool   `yaml:"sweep_enabled"`
	SweepCron    string `yaml:"sweep_cron"`
	AwayAfter    string `yaml:"away_after"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns the effective listen address.
func (c Config) Addr() string {
	addr := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// MaxMessageBytes parses the humanized max message size; zero when unset.
func (c Config) MaxMessageBytes() (int64, error) {
	s := strings.TrimSpace(c.Chat.MaxMessageSize)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max_message_size %q: %w", s, err)
	}
	return int64(n), nil
}

// AwayAfter parses the presence idle threshold; zero when unset.
func (c Config) AwayAfter() (time.Duration, error) {
	s := strings.TrimSpace(c.Presence.AwayAfter)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid away_after %q: %w", s, err)
	}
	return d, nil
}

// Load reads the config file (optional) and applies env overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv maps CHATRELAY_* env vars onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATRELAY_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_SIGNING_KEYS"); v != "" {
		cfg.Auth.SigningKeys = splitList(v)
	}
	if v := os.Getenv("CHATRELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseCommandFlags parses the standard command flags and reports which
// were set explicitly so callers can let flags win over config.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "./data", "path to database directory")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: explicit flag, then env,
// then the conventional default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("CHATRELAY_CONFIG"); v != "" {
		return v
	}
	return "chatrelay.yaml"
}
