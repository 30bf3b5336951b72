// Package config loads wafersync settings from a YAML file, WAFERSYNC_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/schema"
)

// FileName is the config file base name searched for in the working
// directory and in $XDG_CONFIG_HOME/wafersync.
const FileName = "wafersync.yaml"

// EnvPrefix prefixes every environment override, e.g. WAFERSYNC_DB_PATH.
const EnvPrefix = "WAFERSYNC"

// Source is one configured subtree. Pattern is optional; see ingest.Source.
type Source struct {
	Stage   string `mapstructure:"stage" yaml:"stage"`
	Root    string `mapstructure:"root" yaml:"root"`
	Pattern string `mapstructure:"pattern" yaml:"pattern,omitempty"`
}

// Config is the decoded configuration.
type Config struct {
	DB struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"db" yaml:"db"`

	// DataRoot, when set and Sources is empty, ingests every stage folder
	// recognized under it.
	DataRoot string   `mapstructure:"data_root" yaml:"data_root,omitempty"`
	Sources  []Source `mapstructure:"sources" yaml:"sources,omitempty"`

	Ingest struct {
		UseHash            bool   `mapstructure:"use_hash" yaml:"use_hash"`
		IgnoreSessionCache bool   `mapstructure:"ignore_session_cache" yaml:"ignore_session_cache"`
		Timezone           string `mapstructure:"timezone" yaml:"timezone"`
	} `mapstructure:"ingest" yaml:"ingest"`

	Log struct {
		File       string `mapstructure:"file" yaml:"file,omitempty"`
		MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	} `mapstructure:"log" yaml:"log"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	} `mapstructure:"watch" yaml:"watch"`

	Dashboard struct {
		Port int `mapstructure:"port" yaml:"port"`
	} `mapstructure:"dashboard" yaml:"dashboard"`

	Overlay struct {
		ProductsFile string `mapstructure:"products_file" yaml:"products_file,omitempty"`
	} `mapstructure:"overlay" yaml:"overlay"`
}

var defaults = map[string]any{
	"db.path":                     filepath.Join(".wafersync", "wafersync.db"),
	"ingest.use_hash":             false,
	"ingest.ignore_session_cache": false,
	"ingest.timezone":             "Local",
	"log.max_size_mb":             50,
	"log.max_backups":             3,
	"log.max_age_days":            28,
	"watch.debounce":              2 * time.Second,
	"dashboard.port":              8080,
}

// New returns a viper instance with defaults, config search paths and
// environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "wafersync"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file into v. An explicit path must exist; when path
// is empty a missing file in the search paths is not an error.
func Read(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Load is New, Read and Decode in one call.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New()
	if err := Read(v, path); err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Default returns the configuration that applies with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	cfg, err := Decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Location returns the time zone used for timestamps embedded in file names.
func (c *Config) Location() (*time.Location, error) {
	switch c.Ingest.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest.timezone %q: %w", c.Ingest.Timezone, err)
	}
	return loc, nil
}

// IngestSources converts the configured sources. With no explicit sources
// and a data root, one pattern source per known stage is returned.
func (c *Config) IngestSources() ([]ingest.Source, error) {
	if len(c.Sources) == 0 && c.DataRoot != "" {
		var out []ingest.Source
		for _, stage := range schema.Stages {
			out = append(out, ingest.Source{
				Stage:   stage,
				Root:    c.DataRoot,
				Pattern: ingest.DefaultPatterns[stage],
			})
		}
		return out, nil
	}

	out := make([]ingest.Source, 0, len(c.Sources))
	for i, s := range c.Sources {
		stage, err := schema.ParseStage(s.Stage)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if s.Root == "" {
			return nil, fmt.Errorf("sources[%d]: root is required", i)
		}
		out = append(out, ingest.Source{Stage: stage, Root: s.Root, Pattern: s.Pattern})
	}
	return out, nil
}

// Roots returns the distinct source roots, sorted.
func (c *Config) Roots() []string {
	seen := make(map[string]bool)
	var roots []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}
	}
	add(c.DataRoot)
	for _, s := range c.Sources {
		add(s.Root)
	}
	sort.Strings(roots)
	return roots
}

// Write encodes cfg as YAML to path. It refuses to overwrite an existing
// file unless force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
