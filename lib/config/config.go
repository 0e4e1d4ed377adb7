// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that points at the config
// file.
const EnvVar = "XUEHUA_CONFIG"

// Dictionary modes for [CompressionConfig].Dictionary.
const (
	DictionaryNone     = "none"
	DictionaryInline   = "inline"
	DictionaryExternal = "external"
)

// Config is the configuration of the xuehua command.
type Config struct {
	// Root is the base directory for Xuehua data. Other paths may
	// refer to it as ${XUEHUA_ROOT}.
	Root string `yaml:"root"`

	Store       StoreConfig       `yaml:"store"`
	Compression CompressionConfig `yaml:"compression"`
	Signing     SigningConfig     `yaml:"signing"`
}

// StoreConfig locates the local artifact store.
type StoreConfig struct {
	// Root is the store directory.
	// Default: ${XUEHUA_ROOT}/store
	Root string `yaml:"root"`
}

// CompressionConfig sets the defaults for encoding archives.
type CompressionConfig struct {
	// Level is the zstd level, 1 through 22. Zero selects the
	// encoder's default.
	Level int `yaml:"level"`

	// Concurrency bounds parallel compression.
	// Default: number of CPUs
	Concurrency int `yaml:"concurrency"`

	// Dictionary is none, inline or external.
	Dictionary string `yaml:"dictionary"`

	// DictionaryFile holds the dictionary bytes for inline and
	// external modes.
	DictionaryFile string `yaml:"dictionary_file"`
}

// SigningConfig names the keys used to sign and to trust archives.
type SigningConfig struct {
	// Key is a private key file that signs new archives. Empty
	// produces unsigned archives.
	Key string `yaml:"key"`

	// Trusted lists public key files. Verification requires a
	// signature from at least one of them.
	Trusted []string `yaml:"trusted"`
}

// Default returns the configuration used when no file is given, and
// the base every loaded file is merged over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Root: filepath.Join(homeDir, ".local", "share", "xuehua"),
		Store: StoreConfig{
			Root: "${XUEHUA_ROOT}/store",
		},
		Compression: CompressionConfig{
			Concurrency: runtime.NumCPU(),
			Dictionary:  DictionaryNone,
		},
	}
}

// Load loads configuration from the file named by XUEHUA_CONFIG. It
// fails if the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your xuehua.yaml, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over [Default], then expands
// ${HOME}, ${XUEHUA_ROOT} and ${VAR:-default} in path fields. Unknown
// keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// Resolve picks the configuration for a command invocation: the file
// given by flagPath, else the file named by XUEHUA_CONFIG, else the
// defaults.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"XUEHUA_ROOT": c.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["XUEHUA_ROOT"] = c.Root

	c.Store.Root = expandVars(c.Store.Root, vars)
	c.Compression.DictionaryFile = expandVars(c.Compression.DictionaryFile, vars)
	c.Signing.Key = expandVars(c.Signing.Key, vars)
	for i, path := range c.Signing.Trusted {
		c.Signing.Trusted[i] = expandVars(path, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem at
// once.
func (c *Config) Validate() error {
	var errs []error

	if c.Root == "" {
		errs = append(errs, fmt.Errorf("root is required"))
	}
	if c.Store.Root == "" {
		errs = append(errs, fmt.Errorf("store.root is required"))
	}

	if c.Compression.Level < 0 || c.Compression.Level > 22 {
		errs = append(errs, fmt.Errorf("compression.level must be between 1 and 22 (or 0 for the default), got %d", c.Compression.Level))
	}
	if c.Compression.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("compression.concurrency must not be negative, got %d", c.Compression.Concurrency))
	}
	modes := []string{DictionaryNone, DictionaryInline, DictionaryExternal}
	if !slices.Contains(modes, c.Compression.Dictionary) {
		errs = append(errs, fmt.Errorf("compression.dictionary must be one of: %v", modes))
	}
	if c.Compression.Dictionary != DictionaryNone && c.Compression.DictionaryFile == "" {
		errs = append(errs, fmt.Errorf("compression.dictionary_file is required when compression.dictionary is %s", c.Compression.Dictionary))
	}

	for i, path := range c.Signing.Trusted {
		if path == "" {
			errs = append(errs, fmt.Errorf("signing.trusted[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Root, c.Store.Root} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
