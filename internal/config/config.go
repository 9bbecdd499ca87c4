// Package config loads the semantika.yaml configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/semantika/internal/document"
)

// Defaults applied before the file is decoded.
const (
	DefaultDatabase  = "semantika.db"
	DefaultPackage   = "main"
	DefaultBatchSize = 100
	DefaultLogLevel  = "info"
)

// Config is the decoded configuration file.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// Package names the semantic package commands operate on.
	Package string `yaml:"package"`

	// Ontology is a directory of CUE ontology files.
	Ontology string `yaml:"ontology"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// UniquePredicates rejects a second predicate of one type between the
	// same two entities.
	UniquePredicates bool `yaml:"unique_predicates"`

	// BatchSize is the cursor fetch size for reads.
	BatchSize int `yaml:"batch_size"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database:  DefaultDatabase,
		Package:   DefaultPackage,
		LogLevel:  DefaultLogLevel,
		BatchSize: DefaultBatchSize,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if err := document.ValidateName("package", c.Package); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps a level name to its slog level. The empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", name)
	}
}
