package inject_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/centraunit/inject"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configVars = []string{
	"INJECT_STAGE",
	"INJECT_REQUIRE_EXPLICIT_BINDINGS",
	"INJECT_LOG_LEVEL",
	"INJECT_LOG_FORMAT",
}

// unsetConfigVars clears the configuration variables for the duration of t.
func unsetConfigVars(t *testing.T) {
	t.Helper()
	for _, k := range configVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := inject.NewConfig(inject.Config{})
	require.NoError(t, err)
	assert.Equal(t, inject.DefaultConfig(), cfg)

	cfg, err = inject.NewConfig(inject.Config{Stage: "PRODUCTION", LogLevel: "DEBUG", LogFormat: "Json"})
	require.NoError(t, err)
	assert.Equal(t, inject.StageProduction, cfg.Stage)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestInvalidConfig(t *testing.T) {
	for name, cfg := range map[string]inject.Config{
		"stage":  {Stage: "staging"},
		"level":  {LogLevel: "trace"},
		"format": {LogFormat: "xml"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := inject.NewConfig(cfg)
			assert.Error(t, err)

			_, err = inject.NewWithConfig(cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("FromFile", func(t *testing.T) {
		unsetConfigVars(t)
		path := writeEnvFile(t, strings.Join([]string{
			"INJECT_STAGE=production",
			"INJECT_REQUIRE_EXPLICIT_BINDINGS=true",
			"INJECT_LOG_LEVEL=debug",
			"INJECT_LOG_FORMAT=json",
		}, "\n"))

		cfg, err := inject.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, inject.StageProduction, cfg.Stage)
		assert.True(t, cfg.RequireExplicitBindings)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
	})

	t.Run("EnvironmentWins", func(t *testing.T) {
		unsetConfigVars(t)
		t.Setenv("INJECT_LOG_FORMAT", "text")
		path := writeEnvFile(t, "INJECT_LOG_FORMAT=json\n")

		cfg, err := inject.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("MissingFile", func(t *testing.T) {
		unsetConfigVars(t)
		cfg, err := inject.LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
		require.NoError(t, err)
		assert.Equal(t, inject.DefaultConfig(), cfg)
	})

	t.Run("InvalidBool", func(t *testing.T) {
		unsetConfigVars(t)
		t.Setenv("INJECT_REQUIRE_EXPLICIT_BINDINGS", "sometimes")
		_, err := inject.LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
		assert.Error(t, err)
	})
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := inject.NewLogger("debug", "json", &buf)
	require.NoError(t, err)
	logger.Debug("resolving", "key", "Key[type=string]")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	want := map[string]any{
		"level":     "DEBUG",
		"msg":       "resolving",
		"component": "inject",
		"key":       "Key[type=string]",
	}
	ignoreTime := cmpopts.IgnoreMapEntries(func(k string, _ any) bool { return k == "time" })
	if diff := cmp.Diff(want, got, ignoreTime); diff != "" {
		t.Errorf("log record mismatch (-want +got):\n%s", diff)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := inject.NewLogger("WARN", "text", &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "component=inject")
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := inject.NewLogger("trace", "text", io.Discard)
	assert.ErrorContains(t, err, `unknown log level "trace"`)

	_, err = inject.NewLogger("info", "xml", io.Discard)
	assert.ErrorContains(t, err, `unknown log format "xml"`)
}

func TestInjectorLogging(t *testing.T) {
	var buf bytes.Buffer
	inj, err := inject.NewWithConfig(inject.Config{LogLevel: "debug", LogFormat: "json", LogOutput: &buf})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"injector created"`)

	_, err = inject.Get[*Widget](t.Context(), inj)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"synthesized just-in-time binding"`)
	assert.Same(t, inj.Logger(), inj.Logger())

	var custom bytes.Buffer
	logger, err := inject.NewLogger("info", "text", &custom)
	require.NoError(t, err)
	inj, err = inject.NewWithConfig(inject.Config{Logger: logger})
	require.NoError(t, err)
	assert.Same(t, logger, inj.Logger())
	assert.Contains(t, custom.String(), "injector created")
}
