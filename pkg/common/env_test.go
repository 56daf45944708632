package common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEnvFromReader(t *testing.T) {
	t.Setenv("FOG_TEST_BASE", "/srv/fog")

	tests := []struct {
		name        string
		input       string
		expectedEnv map[string]string
	}{
		{
			name: "plain and quoted values",
			input: `
FOG_TEST_PORT=8880
FOG_TEST_STATUS=ProjectFog # trailing comment
# comment line
FOG_TEST_DOUBLE="quoted # not a comment"
FOG_TEST_SINGLE='literal $FOG_TEST_BASE'
FOG_TEST_EMPTY=
`,
			expectedEnv: map[string]string{
				"FOG_TEST_PORT":   "8880",
				"FOG_TEST_STATUS": "ProjectFog",
				"FOG_TEST_DOUBLE": "quoted # not a comment",
				"FOG_TEST_SINGLE": "literal $FOG_TEST_BASE",
				"FOG_TEST_EMPTY":  "",
			},
		},
		{
			name: "expansion",
			input: `
FOG_TEST_LOG=${FOG_TEST_BASE}/fog.log
FOG_TEST_DEFAULT=${FOG_TEST_UNDEFINED_VAR:-fallback}
FOG_TEST_DEFAULT_SET=${FOG_TEST_BASE:-unused}
`,
			expectedEnv: map[string]string{
				"FOG_TEST_LOG":         "/srv/fog/fog.log",
				"FOG_TEST_DEFAULT":     "fallback",
				"FOG_TEST_DEFAULT_SET": "/srv/fog",
			},
		},
		{
			name:        "export prefix",
			input:       "export FOG_TEST_EXPORTED=yes",
			expectedEnv: map[string]string{"FOG_TEST_EXPORTED": "yes"},
		},
		{
			name:        "multiple equals keep the remainder",
			input:       "FOG_TEST_MULTI=a=b",
			expectedEnv: map[string]string{"FOG_TEST_MULTI": "a=b"},
		},
		{
			name:        "lines without equals are skipped",
			input:       "MALFORMED_LINE_NO_EQUALS\n=novalue",
			expectedEnv: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key := range tt.expectedEnv {
				// Registers cleanup of whatever the loader sets.
				t.Setenv(key, "")
				os.Unsetenv(key)
			}

			if err := LoadEnvFromReader(strings.NewReader(tt.input)); err != nil {
				t.Fatalf("LoadEnvFromReader() unexpected error: %v", err)
			}

			for key, expected := range tt.expectedEnv {
				actual, found := os.LookupEnv(key)
				if !found {
					t.Errorf("Expected env variable %s to be set", key)
					continue
				}
				if actual != expected {
					t.Errorf("Env variable %s: expected %q, got %q", key, expected, actual)
				}
			}
		})
	}
}

func TestImportEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FOG_TEST_FROM_FILE=1\n"), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Setenv("FOG_TEST_FROM_FILE", "")

	if err := ImportEnvFile(path); err != nil {
		t.Fatalf("ImportEnvFile() unexpected error: %v", err)
	}
	if got := os.Getenv("FOG_TEST_FROM_FILE"); got != "1" {
		t.Errorf("Expected FOG_TEST_FROM_FILE=1, got %q", got)
	}

	if err := ImportEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Missing env file should not be an error, got %v", err)
	}
}

func TestLoadEnvToStruct(t *testing.T) {
	type Limits struct {
		MaxConnections uint    `env:"FOG_TEST_MAX_CONNECTIONS,default=0"`
		Ratio          float64 `env:"FOG_TEST_RATIO,default=0.5"`
	}
	type Config struct {
		Port          int           `env:"FOG_TEST_PORT,required"`
		StatusMessage string        `env:"FOG_TEST_STATUS,default=ProjectFog"`
		ReusePort     bool          `env:"FOG_TEST_REUSE_PORT,default=true"`
		Timeout       time.Duration `env:"FOG_TEST_TIMEOUT,default=10s"`
		LogFile       string        `env:"FOG_TEST_LOG_FILE"`
		NotUsed       string
		Limits
	}

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("FOG_TEST_PORT", "8880")
		var cfg Config
		if err := LoadEnvToStruct(&cfg); err != nil {
			t.Fatalf("LoadEnvToStruct() unexpected error: %v", err)
		}
		if cfg.Port != 8880 || cfg.StatusMessage != "ProjectFog" || !cfg.ReusePort ||
			cfg.Timeout != 10*time.Second || cfg.LogFile != "" {
			t.Errorf("Unexpected config %+v", cfg)
		}
		if cfg.MaxConnections != 0 || cfg.Ratio != 0.5 {
			t.Errorf("Expected nested defaults, got %+v", cfg.Limits)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("FOG_TEST_PORT", "0x1F90")
		t.Setenv("FOG_TEST_STATUS", "Fog")
		t.Setenv("FOG_TEST_REUSE_PORT", "false")
		t.Setenv("FOG_TEST_TIMEOUT", "250ms")
		t.Setenv("FOG_TEST_MAX_CONNECTIONS", "512")
		t.Setenv("FOG_TEST_LOG_FILE", "")
		var cfg Config
		if err := LoadEnvToStruct(&cfg); err != nil {
			t.Fatalf("LoadEnvToStruct() unexpected error: %v", err)
		}
		if cfg.Port != 8080 || cfg.StatusMessage != "Fog" || cfg.ReusePort ||
			cfg.Timeout != 250*time.Millisecond || cfg.MaxConnections != 512 {
			t.Errorf("Unexpected config %+v", cfg)
		}
	})

	t.Run("required missing", func(t *testing.T) {
		os.Unsetenv("FOG_TEST_PORT")
		var cfg Config
		err := LoadEnvToStruct(&cfg)
		if err == nil || !strings.Contains(err.Error(), "FOG_TEST_PORT") {
			t.Errorf("Expected error naming FOG_TEST_PORT, got %v", err)
		}
	})

	badValues := map[string]string{
		"FOG_TEST_PORT":            "eighty",
		"FOG_TEST_TIMEOUT":         "10",
		"FOG_TEST_MAX_CONNECTIONS": "-1",
		"FOG_TEST_REUSE_PORT":      "maybe",
		"FOG_TEST_RATIO":           "half",
	}
	for key, value := range badValues {
		t.Run("bad "+key, func(t *testing.T) {
			t.Setenv("FOG_TEST_PORT", "8880")
			t.Setenv(key, value)
			var cfg Config
			if err := LoadEnvToStruct(&cfg); err == nil {
				t.Errorf("Expected parse error for %s=%q", key, value)
			}
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		t.Setenv("FOG_TEST_LIST", "a,b")
		var cfg struct {
			List []string `env:"FOG_TEST_LIST"`
		}
		if err := LoadEnvToStruct(&cfg); err == nil {
			t.Error("Expected error for unsupported field type")
		}
	})

	t.Run("not a struct pointer", func(t *testing.T) {
		for _, in := range []interface{}{Config{}, new(int), (*Config)(nil)} {
			if err := LoadEnvToStruct(in); !errors.Is(err, ErrNotStructPointer) {
				t.Errorf("LoadEnvToStruct(%T) expected ErrNotStructPointer, got %v", in, err)
			}
		}
	})
}
