// Package config loads the settings of the client and the fake server:
// built-in defaults, then an optional TOML file, then AOCHAT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

const (
	EnvPrefix = "AOCHAT"
	// PathEnv names the TOML file to read, if any.
	PathEnv = "AOCHAT_CONFIG"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	ServerAddr     string        `toml:"server_addr" envconfig:"SERVER_ADDR"`
	ConnectTimeout time.Duration `toml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `toml:"read_timeout" envconfig:"READ_TIMEOUT"`

	Username  string `toml:"username" envconfig:"USERNAME"`
	Password  string `toml:"password" envconfig:"PASSWORD"`
	Character string `toml:"character" envconfig:"CHARACTER"`
	// ServerKey replaces the server's public key-exchange value, "0x..."
	// hex. Only needed for servers other than the live ones.
	ServerKey string `toml:"server_key" envconfig:"SERVER_KEY"`

	// CatalogPath is the game's text.mdb; CatalogOverridePath an optional
	// YAML catalog consulted first.
	CatalogPath         string `toml:"catalog_path" envconfig:"CATALOG_PATH"`
	CatalogOverridePath string `toml:"catalog_override_path" envconfig:"CATALOG_OVERRIDE_PATH"`

	FloodLimit     time.Duration `toml:"flood_limit" envconfig:"FLOOD_LIMIT"`
	FloodIncrement time.Duration `toml:"flood_increment" envconfig:"FLOOD_INCREMENT"`
	PingTag        string        `toml:"ping_tag" envconfig:"PING_TAG"`

	MetricsAddr string `toml:"metrics_addr" envconfig:"METRICS_ADDR"`
	LogLevel    string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

func Default() Config {
	return Config{
		ServerAddr:     "chat.d1.funcom.com:7105",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		CatalogPath:    "text.mdb",
		FloodLimit:     7 * time.Second,
		FloodIncrement: 2 * time.Second,
		PingTag:        "aochat-go",
		LogLevel:       "info",
	}
}

func (c *Config) Validate() error {
	switch {
	case c.ServerAddr == "":
		return fmt.Errorf("%w: server_addr is empty", ErrInvalid)
	case c.Username == "" || c.Password == "":
		return fmt.Errorf("%w: username and password are required", ErrInvalid)
	case c.Character == "":
		return fmt.Errorf("%w: character is required", ErrInvalid)
	case c.ConnectTimeout <= 0 || c.ReadTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	case c.FloodLimit < 0 || c.FloodIncrement <= 0:
		return fmt.Errorf("%w: flood_increment must be positive and flood_limit not negative", ErrInvalid)
	}
	return nil
}

// Level is LogLevel parsed, info if unrecognised.
func (c *Config) Level() log.Level {
	return parseLevel(c.LogLevel)
}

// Load reads the file at path (skipped when path is empty) over the
// defaults and applies the environment on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv is Load with the path taken from PathEnv.
func FromEnv() (Config, error) {
	return Load(os.Getenv(PathEnv))
}

// ServerConfig configures the fake chat server.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr" envconfig:"LISTEN_ADDR"`

	// One account with its characters.
	Username   string   `toml:"username" envconfig:"USERNAME"`
	Password   string   `toml:"password" envconfig:"PASSWORD"`
	Characters []string `toml:"characters" envconfig:"CHARACTERS"`
	// Secret is the private key-exchange exponent; empty uses a built-in
	// one.
	Secret string `toml:"secret" envconfig:"SECRET"`

	// Groups announced to every client after login.
	Groups []string `toml:"groups" envconfig:"GROUPS"`

	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

func DefaultServer() ServerConfig {
	return ServerConfig{
		ListenAddr: "127.0.0.1:7105",
		Username:   "test",
		Password:   "test",
		Characters: []string{"Testbot"},
		Groups:     []string{"Test OOC"},
		LogLevel:   "debug",
	}
}

func (c *ServerConfig) Level() log.Level {
	return parseLevel(c.LogLevel)
}

func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ListenAddr == "" || len(cfg.Characters) == 0 {
		return cfg, fmt.Errorf("%w: listen_addr and characters are required", ErrInvalid)
	}
	return cfg, nil
}

func ServerFromEnv() (ServerConfig, error) {
	return LoadServer(os.Getenv(PathEnv))
}

func load(path string, dst any) error {
	if path != "" {
		if _, err := toml.DecodeFile(path, dst); err != nil {
			return fmt.Errorf("could not decode config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, dst); err != nil {
		return fmt.Errorf("could not process env: %w", err)
	}
	return nil
}

func parseLevel(s string) log.Level {
	l := log.ParseLevel(s)
	if l < log.TraceLevel || l > log.PanicLevel {
		return log.InfoLevel
	}
	return l
}
