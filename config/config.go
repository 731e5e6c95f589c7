// Package config holds kasm's persisted defaults: include search
// directories, warning and preprocessing toggles, and the output
// metadata recorded in emitted KO files. File values layer underneath
// the CLI's own flags, which always win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration, stored as TOML.
type Config struct {
	Assemble struct {
		IncludeDirs      []string `toml:"include_dirs"`
		SuppressWarnings bool     `toml:"suppress_warnings"`
		SkipPreprocess   bool     `toml:"skip_preprocess"`
	} `toml:"assemble"`

	Output struct {
		Comment    string `toml:"comment"`
		SourceName string `toml:"source_name"`
		DefaultOut string `toml:"default_out"`
	} `toml:"output"`

	Diagnostics struct {
		ColorOutput bool `toml:"color_output"`
		MaxErrors   int  `toml:"max_errors"`
	} `toml:"diagnostics"`
}

// DefaultConfig returns the defaults used when no config file exists.
func DefaultConfig() *Config {
	var cfg Config
	cfg.Output.DefaultOut = "a.ko"
	cfg.Diagnostics.ColorOutput = true
	cfg.Diagnostics.MaxErrors = 0 // 0 = unbounded
	return &cfg
}

// GetConfigPath returns the config file location: $KASM_CONFIG when
// set, otherwise config.toml under the platform user-config directory
// (falling back to the working directory when none is available).
func GetConfigPath() string {
	if p := os.Getenv("KASM_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "kasm", "config.toml")
}

// Load reads the config file at GetConfigPath.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom reads path as TOML over the defaults. A missing file is not
// an error; it simply yields DefaultConfig.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to GetConfigPath.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo writes the config as TOML at path, creating parent
// directories as needed.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Merge layers CLI-supplied include directories on top of the config
// file's own list, de-duplicating while preserving order: config-file
// entries are tried first, then any additional directories passed on
// the command line.
func (c *Config) Merge(cliIncludeDirs []string) []string {
	seen := make(map[string]bool, len(c.Assemble.IncludeDirs)+len(cliIncludeDirs))
	var out []string
	for _, d := range append(append([]string{}, c.Assemble.IncludeDirs...), cliIncludeDirs...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
