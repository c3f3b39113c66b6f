// Package config loads the Kestrel configuration from defaults, an optional
// YAML file and KESTREL_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KESTREL_"

	// PathEnvVar overrides the config file path.
	PathEnvVar = "KESTREL_CONFIG"

	// ProfileEnvVar selects the defaults: standalone or distributed.
	ProfileEnvVar = "KESTREL_PROFILE"
)

// DefaultPaths are searched when no path is given.
var DefaultPaths = []string{
	"kestrel.yaml",
	"kestrel.yml",
	"/etc/kestrel/kestrel.yaml",
}

// sliceKeys are split on commas when they arrive as strings from the
// environment.
var sliceKeys = []string{
	"server.cors_origins",
	"ledger.sources",
	"worker.datasets",
}

// Load builds the configuration. path may be empty, in which case
// KESTREL_CONFIG and then DefaultPaths are tried; a missing file is not an
// error unless it was named explicitly.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if domain.Profile(os.Getenv(ProfileEnvVar)) == domain.ProfileDistributed {
		defaults = domain.DistributedConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(PathEnvVar)
		explicit = path != ""
	}
	if !explicit {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &domain.Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func Validate(cfg *domain.Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// envKey maps KESTREL_SECTION__KEY to section.key. Single underscores are
// kept so that KESTREL_LEDGER__CSV_DIR becomes ledger.csv_dir. The
// variables read directly by Load are skipped.
func envKey(s string) string {
	if s == PathEnvVar || s == ProfileEnvVar {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findFile() string {
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}
