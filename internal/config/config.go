package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config drives the tagctl CLI: which reader to use and which key slot to
// authenticate with.
type Config struct {
	Auth    AuthConfig    `yaml:"auth"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type AuthConfig struct {
	KeyNo      *int   `yaml:"key_no"`
	KeyHexFile string `yaml:"key_hex_file"`
}

type RuntimeConfig struct {
	ReaderIndex *int `yaml:"reader_index"`
}

// Load reads and validates a yaml config. Unknown fields are rejected;
// relative key-file paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if c.Auth.KeyNo == nil {
		return fmt.Errorf("config.auth.key_no is required")
	}
	if *c.Auth.KeyNo < 0 || *c.Auth.KeyNo > 4 {
		return fmt.Errorf("config.auth.key_no must be 0..4")
	}
	if strings.TrimSpace(c.Auth.KeyHexFile) != "" {
		if err := validateReadableFile(c.Auth.KeyHexFile, "config.auth.key_hex_file"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Auth.KeyHexFile = resolvePath(configDir, c.Auth.KeyHexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
