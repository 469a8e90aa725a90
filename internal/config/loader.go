package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "PROJECTSEARCH_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// DefaultPath is ~/.projectsearch/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".projectsearch", "config.yaml"), nil
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PROJECTSEARCH_EMBEDDING_POLICY, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty configPath uses DefaultPath, which may be absent. An explicit
// path must exist.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	PROJECTSEARCH_STORAGE_BACKEND    -> storage.backend
//	PROJECTSEARCH_EMBEDDING_BASE_URL -> embedding.base_url
//	PROJECTSEARCH_PROJECTS_EDITOR_POLICY -> projects.editor_policy
func Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		var err error
		if configPath, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	var content []byte
	f, err := os.Open(configPath)
	switch {
	case err == nil:
		defer f.Close()
		if content, err = readConfigFile(f); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	return load(content)
}

// LoadBytes parses YAML content with environment overrides
func LoadBytes(content []byte) (*Config, error) {
	return load(content)
}

func load(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps PROJECTSEARCH_SECTION_FIELD_NAME to section.field_name
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, found := strings.Cut(lower, "_")
	if !found {
		return lower
	}
	return section + "." + field
}

func readConfigFile(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", f.Name())
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
}
