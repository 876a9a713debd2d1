/*
Package config loads the YAML configuration for a dhtnode instance,
mirroring teacher's Config.go: an embedded default, read-or-fallback on a
missing file, and an optional log file the rest of the node writes through.
The LogLevel setting is loaded and stored, but no log filtering applies it.
*/
package config

import (
	_ "embed" // required for embedding the default config file
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfig []byte

// Config is the full set of settings a dhtnode instance runs with.
type Config struct {
	BindV4     string `yaml:"BindV4"`
	BindV6     string `yaml:"BindV6"`
	StateDir   string `yaml:"StateDir"`
	TimeoutMS  int    `yaml:"TimeoutMS"`
	NoVerifyID bool   `yaml:"NoVerifyID"`
	PublicIP   string `yaml:"PublicIP"`
	LogLevel   string `yaml:"LogLevel"`
	LogFile    string `yaml:"LogFile"`

	BootstrapPeers []string `yaml:"BootstrapPeers"`
}

// Load reads the YAML config at filename. A missing or empty file falls
// back to the embedded default rather than erroring, matching teacher's
// LoadConfig behavior.
func Load(filename string) (*Config, error) {
	var raw []byte

	stats, err := os.Stat(filename)
	switch {
	case err != nil && os.IsNotExist(err):
		raw = defaultConfig
	case err != nil:
		return nil, fmt.Errorf("config: stat %q: %w", filename, err)
	case stats.Size() == 0:
		raw = defaultConfig
	default:
		if raw, err = os.ReadFile(filename); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", filename, err)
		}
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", filename, err)
	}
	return &c, nil
}

// InitLog returns a new logger that writes to c.LogFile, or to stderr if
// LogFile is empty. The standard library's global logger is left unchanged.
func (c *Config) InitLog() (*log.Logger, error) {
	if c.LogFile == "" {
		return log.New(os.Stderr, "", log.LstdFlags), nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("config: open log file %q: %w", c.LogFile, err)
	}
	return log.New(f, "", log.LstdFlags), nil
}
