package resource

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned for configurations that cannot be served.
var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultConfig serves an in-memory resource named "default".
func DefaultConfig() api.Config {
	return api.Config{
		Store:    api.Store{Backend: BackendMemory},
		Resource: &api.Resource{Name: "default", LogLevel: "info"},
	}
}

// LoadConfig decodes and validates an HCL configuration file.
func LoadConfig(path string) (api.Config, error) {
	var cfg api.Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return api.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.Resource == nil {
		cfg.Resource = DefaultConfig().Resource
	}
	if err := Validate(cfg); err != nil {
		return api.Config{}, err
	}
	return cfg, nil
}

// Validate checks the backend and log level settings.
func Validate(cfg api.Config) error {
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("sqlite backend needs a path: %w", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("unknown backend %q: %w", cfg.Store.Backend, ErrInvalidConfig)
	}
	if cfg.Resource != nil {
		if _, err := parseLevel(cfg.Resource.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, ErrInvalidConfig)
	}
	return lvl, nil
}

// OpenStore creates the page store selected by cfg.
func OpenStore(cfg api.Store) (page.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return page.NewMemStore(), nil
	case BackendSQLite:
		s, err := page.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q: %w", cfg.Backend, ErrInvalidConfig)
}
