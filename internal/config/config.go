package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/devicenames/internal/core/services/devicenames"
)

const (
	envPrefix = "DEVICENAMES_"

	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	URL          string        `yaml:"url"`
	Store        string        `yaml:"store"`
	DBPath       string        `yaml:"db_path"`
	CachePath    string        `yaml:"cache_path"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	WarmInterval time.Duration `yaml:"warm_interval"`
	RejectEmpty  bool          `yaml:"reject_empty_table"`
	Tracing      bool          `yaml:"tracing"`
	Debug        bool          `yaml:"debug"`

	// Command line only
	ConfigFile string   `yaml:"-"`
	Sync       bool     `yaml:"-"`
	Args       []string `yaml:"-"` // identifiers to resolve instead of serving
}

// Load reads configuration for the current process from os.Args and the
// environment.
func Load() (*Config, error) {
	return Parse(os.Args[1:])
}

// Parse builds a Config from args.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file given by -config or DEVICENAMES_CONFIG
//  3. Environment variables (DEVICENAMES_*)
//  4. Command line flags
func Parse(args []string) (*Config, error) {
	cfg := defaultConfig()

	cfg.ConfigFile = configPathFromArgs(args, getEnv(envPrefix+"CONFIG", ""))
	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	fs := flag.NewFlagSet("devicenames", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to YAML configuration file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	fs.StringVar(&cfg.URL, "url", cfg.URL, "URL of the remote device table")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Record store: sqlite, file or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite database")
	fs.StringVar(&cfg.CachePath, "cache", cfg.CachePath, "Path to JSON cache file (file store)")
	fs.DurationVar(&cfg.FetchTimeout, "timeout", cfg.FetchTimeout, "Timeout for downloading the remote table")
	fs.DurationVar(&cfg.WarmInterval, "warm", cfg.WarmInterval, "How often the server checks freshness on its own (0 to disable)")
	fs.BoolVar(&cfg.RejectEmpty, "reject-empty", cfg.RejectEmpty, "Treat an empty remote table as a failed refresh")
	fs.BoolVar(&cfg.Tracing, "tracing", cfg.Tracing, "Print OpenTelemetry traces to stdout")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable verbose debug logging")
	fs.BoolVar(&cfg.Sync, "sync", false, "Refresh synchronously before resolving command line identifiers")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, errors.New("url must not be empty"))
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite store"))
		}
	case StoreFile:
		if c.CachePath == "" {
			errs = append(errs, errors.New("cache_path is required for the file store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.WarmInterval < 0 {
		errs = append(errs, errors.New("warm_interval must not be negative"))
	}

	return errors.Join(errs...)
}

func defaultConfig() *Config {
	dir := getDefaultDataDir()
	return &Config{
		Addr:         ":8080",
		URL:          devicenames.DefaultURL,
		Store:        StoreSQLite,
		DBPath:       filepath.Join(dir, "devicenames.db"),
		CachePath:    filepath.Join(dir, "devicenames.json"),
		FetchTimeout: 30 * time.Second,
		WarmInterval: time.Hour,
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	c.Addr = getEnv(envPrefix+"ADDR", c.Addr)
	c.URL = getEnv(envPrefix+"URL", c.URL)
	c.Store = getEnv(envPrefix+"STORE", c.Store)
	c.DBPath = getEnv(envPrefix+"DB", c.DBPath)
	c.CachePath = getEnv(envPrefix+"CACHE", c.CachePath)
	c.FetchTimeout = getEnvDuration(envPrefix+"TIMEOUT", c.FetchTimeout)
	c.WarmInterval = getEnvDuration(envPrefix+"WARM", c.WarmInterval)
	c.RejectEmpty = getEnvBool(envPrefix+"REJECT_EMPTY", c.RejectEmpty)
	c.Tracing = getEnvBool(envPrefix+"TRACING", c.Tracing)
	c.Debug = getEnvBool(envPrefix+"DEBUG", c.Debug)
}

// configPathFromArgs finds -config before the full flag set is parsed, so the
// file can sit underneath env and flag overrides.
func configPathFromArgs(args []string, fallback string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if name == a {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// getDefaultDataDir returns ~/.devicenames, creating it if needed.
func getDefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Could not get user home directory, using current dir", "error", err)
		return "."
	}

	dir := filepath.Join(home, ".devicenames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Could not create data directory, using current dir", "dir", dir, "error", err)
		return "."
	}
	return dir
}
