package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

func TestNewProxyConfigDefaults(t *testing.T) {
	t.Setenv("FOG_INSTANCE", "test-instance")
	cfg, err := NewProxyConfig()
	if err != nil {
		t.Fatalf("NewProxyConfig() unexpected error: %v", err)
	}
	if cfg.Port != 8880 || cfg.StatusMessage != "ProjectFog" {
		t.Errorf("Expected port 8880 and ProjectFog, got %d %q", cfg.Port, cfg.StatusMessage)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.ReadTimeout != 10*time.Second {
		t.Errorf("Unexpected timeouts: %v %v", cfg.ConnectTimeout, cfg.ReadTimeout)
	}
	if cfg.PollInterval != 5*time.Second || cfg.MaxIdlePolls != 60 {
		t.Errorf("Expected 60 idle polls of 5s, got %d x %v", cfg.MaxIdlePolls, cfg.PollInterval)
	}
	if cfg.BufferSize != 65536 || !cfg.ReusePort || cfg.MaxConnections != 0 {
		t.Errorf("Unexpected listener settings %+v", cfg)
	}
	if cfg.ListenAddr() != "0.0.0.0:8880" {
		t.Errorf("Expected 0.0.0.0:8880, got %s", cfg.ListenAddr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

func TestProxyConfigInstanceDefault(t *testing.T) {
	t.Setenv("FOG_INSTANCE", "")
	t.Setenv("FOG_PORT", "9000")
	cfg, err := NewProxyConfig()
	if err != nil {
		t.Fatalf("NewProxyConfig() unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.Instance, ":9000") {
		t.Errorf("Expected instance name to end in the port, got %q", cfg.Instance)
	}

	if err := cfg.ApplyArgs([]string{"9100"}); err != nil {
		t.Fatalf("ApplyArgs() unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.Instance, ":9100") {
		t.Errorf("Expected instance name to follow the port argument, got %q", cfg.Instance)
	}
}

func TestApplyArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantPort   int
		wantStatus string
		wantErr    bool
	}{
		{"no arguments", nil, 8880, "ProjectFog", false},
		{"port only", []string{"3128"}, 3128, "ProjectFog", false},
		{"port and status", []string{"8080", "Fog Ready"}, 8080, "Fog Ready", false},
		{"invalid port", []string{"http"}, 0, "", true},
		{"too many", []string{"1", "2", "3"}, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ProxyConfig{Port: 8880, StatusMessage: "ProjectFog"}
			err := cfg.ApplyArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Port != tt.wantPort || cfg.StatusMessage != tt.wantStatus {
				t.Errorf("Expected %d %q, got %d %q", tt.wantPort, tt.wantStatus, cfg.Port, cfg.StatusMessage)
			}
		})
	}
}

func validProxyConfig() ProxyConfig {
	return ProxyConfig{
		Port:           8880,
		StatusMessage:  "ProjectFog",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		BufferSize:     65536,
		PollInterval:   5 * time.Second,
		MaxIdlePolls:   60,
	}
}

func TestProxyConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProxyConfig)
		want   string
	}{
		{"port zero", func(c *ProxyConfig) { c.Port = 0 }, "port must be between 1 and 65535"},
		{"port too large", func(c *ProxyConfig) { c.Port = 65536 }, "port must be between 1 and 65535"},
		{"status with CRLF", func(c *ProxyConfig) { c.StatusMessage = "Fog\r\nX-Evil: 1" }, "CR or LF"},
		{"zero connect timeout", func(c *ProxyConfig) { c.ConnectTimeout = 0 }, "connect timeout"},
		{"negative read timeout", func(c *ProxyConfig) { c.ReadTimeout = -time.Second }, "read timeout"},
		{"zero buffer", func(c *ProxyConfig) { c.BufferSize = 0 }, "buffer size"},
		{"zero idle polls", func(c *ProxyConfig) { c.MaxIdlePolls = 0 }, "idle detection"},
		{"negative max connections", func(c *ProxyConfig) { c.MaxConnections = -1 }, "max connections"},
		{"redis without interval", func(c *ProxyConfig) { c.RedisAddr = "localhost:6379" }, "stats interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validProxyConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestAdminConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AdminConfig
		wantErr bool
		tls     bool
	}{
		{"disabled", AdminConfig{MaxTokenLifetime: time.Hour}, false, false},
		{"plain only", AdminConfig{Addr: ":9090", MaxTokenLifetime: time.Hour}, false, false},
		{"cert without key", AdminConfig{TLSAddr: ":9443", CertFile: "c.pem", MaxTokenLifetime: time.Hour}, true, false},
		{"tls without cert source", AdminConfig{TLSAddr: ":9443", MaxTokenLifetime: time.Hour}, true, false},
		{"tls with files", AdminConfig{TLSAddr: ":9443", CertFile: "c.pem", KeyFile: "k.pem", MaxTokenLifetime: time.Hour}, false, true},
		{"tls with autocert", AdminConfig{TLSAddr: ":9443", Hostname: "fog.example.com", MaxTokenLifetime: time.Hour}, false, true},
		{"zero lifetime", AdminConfig{Addr: ":9090"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := tt.cfg.TLSEnabled(); got != tt.tls {
				t.Errorf("Expected TLSEnabled() = %v, got %v", tt.tls, got)
			}
		})
	}
}

func TestLogSettings(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	cfg := validProxyConfig()
	cfg.LogSettings(logger)
	(&AdminConfig{Addr: ":9090"}).LogSettings(logger)

	out := buf.String()
	for _, want := range []string{"Listen Address: :8880", "Status message: ProjectFog", "Stats Publishing: DISABLED", "unauthenticated"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in settings log:\n%s", want, out)
		}
	}
}
