package inject

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Stage selects how eagerly an injector creates singletons.
type Stage string

const (
	// StageDevelopment creates only eager singletons while building.
	StageDevelopment Stage = "development"
	// StageProduction creates every singleton while building.
	StageProduction Stage = "production"
)

// Config controls how injectors are built.
type Config struct {
	Stage Stage
	// RequireExplicitBindings disables just-in-time constructor bindings.
	// ProviderOf keys are still synthesized.
	RequireExplicitBindings bool

	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json
	LogOutput io.Writer

	// Logger overrides LogLevel, LogFormat and LogOutput.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return Config{Stage: StageDevelopment, LogLevel: "info", LogFormat: "text"}
}

// NewConfig fills defaults into cfg and validates it. When Logger is nil
// and LogOutput is set, Logger is built from the log settings.
func NewConfig(cfg Config) (Config, error) {
	def := DefaultConfig()
	if cfg.Stage == "" {
		cfg.Stage = def.Stage
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	cfg.Stage = Stage(strings.ToLower(string(cfg.Stage)))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	switch cfg.Stage {
	case StageDevelopment, StageProduction:
	default:
		return Config{}, fmt.Errorf("inject: unknown stage %q", cfg.Stage)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if _, err := handlerFor(cfg.LogFormat); err != nil {
		return Config{}, err
	}
	if cfg.Logger == nil && cfg.LogOutput != nil {
		logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
		if err != nil {
			return Config{}, err
		}
		cfg.Logger = logger
	}
	return cfg, nil
}

// LoadConfig reads the given .env files (".env" when none are given, a
// missing file is not an error) and builds a Config from INJECT_STAGE,
// INJECT_REQUIRE_EXPLICIT_BINDINGS, INJECT_LOG_LEVEL and INJECT_LOG_FORMAT.
// Variables already set in the environment win over the files.
func LoadConfig(envFiles ...string) (Config, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("inject: loading %s: %w", f, err)
		}
	}

	explicit, err := envBool("INJECT_REQUIRE_EXPLICIT_BINDINGS", false)
	if err != nil {
		return Config{}, err
	}
	return NewConfig(Config{
		Stage:                   Stage(env("INJECT_STAGE", string(StageDevelopment))),
		RequireExplicitBindings: explicit,
		LogLevel:                env("INJECT_LOG_LEVEL", "info"),
		LogFormat:               env("INJECT_LOG_FORMAT", "text"),
	})
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("inject: %s: %w", key, err)
	}
	return b, nil
}
