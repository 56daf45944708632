/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/strseb/fogproxy/pkg/common"
)

// ProxyConfig holds the settings of the proxy listener and handler.
type ProxyConfig struct {
	BindAddr       string        `env:"FOG_BIND_ADDR,default=0.0.0.0"`
	Port           int           `env:"FOG_PORT,default=8880"`
	StatusMessage  string        `env:"FOG_STATUS_MESSAGE,default=ProjectFog"`
	ConnectTimeout time.Duration `env:"FOG_CONNECT_TIMEOUT,default=10s"`
	ReadTimeout    time.Duration `env:"FOG_READ_TIMEOUT,default=10s"`
	BufferSize     int           `env:"FOG_BUFFER_SIZE,default=65536"`
	PollInterval   time.Duration `env:"FOG_POLL_INTERVAL,default=5s"`
	MaxIdlePolls   int           `env:"FOG_MAX_IDLE_POLLS,default=60"`
	MaxConnections int           `env:"FOG_MAX_CONNECTIONS,default=0"`
	ReusePort      bool          `env:"FOG_REUSE_PORT,default=true"`

	// Log file settings; stdout only when LogFile is empty.
	LogFile       string `env:"FOG_LOG_FILE"`
	LogMaxSizeMB  int    `env:"FOG_LOG_MAX_SIZE_MB,default=100"`
	LogMaxBackups int    `env:"FOG_LOG_MAX_BACKUPS,default=5"`
	LogMaxAgeDays int    `env:"FOG_LOG_MAX_AGE_DAYS,default=28"`

	// Statistics publishing; disabled when RedisAddr is empty.
	RedisAddr     string        `env:"FOG_REDIS_ADDR"`
	RedisPassword string        `env:"FOG_REDIS_PASSWORD"`
	RedisDB       int           `env:"FOG_REDIS_DB,default=0"`
	Instance      string        `env:"FOG_INSTANCE"`
	StatsInterval time.Duration `env:"FOG_STATS_INTERVAL,default=10s"`

	// derivedInstance is set when Instance was built from the host name and
	// must follow port changes.
	derivedInstance bool
}

// NewProxyConfig loads the proxy configuration from the environment.
func NewProxyConfig() (*ProxyConfig, error) {
	cfg := &ProxyConfig{}
	if err := common.LoadEnvToStruct(cfg); err != nil {
		return nil, fmt.Errorf("error loading proxy config from environment: %w", err)
	}
	if cfg.Instance == "" {
		cfg.derivedInstance = true
		cfg.deriveInstance()
	}
	return cfg, nil
}

func (c *ProxyConfig) deriveInstance() {
	host, err := os.Hostname()
	if err != nil {
		host = "fogproxy"
	}
	c.Instance = fmt.Sprintf("%s:%d", host, c.Port)
}

// ApplyArgs applies the positional command line `[PORT] [STATUS_MESSAGE]`,
// which take precedence over the environment.
func (c *ProxyConfig) ApplyArgs(args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("too many arguments: usage: proxy [PORT] [STATUS_MESSAGE]")
	}
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port: %s", args[0])
		}
		c.Port = port
		if c.derivedInstance {
			c.deriveInstance()
		}
	}
	if len(args) > 1 {
		c.StatusMessage = args[1]
	}
	return nil
}

// Validate rejects settings the proxy cannot run with.
func (c *ProxyConfig) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got: %d", c.Port))
	}
	if strings.ContainsAny(c.StatusMessage, "\r\n") {
		errs = append(errs, errors.New("status message must not contain CR or LF"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got: %v", c.ConnectTimeout))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read timeout must be positive, got: %v", c.ReadTimeout))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer size must be positive, got: %d", c.BufferSize))
	}
	if c.PollInterval <= 0 || c.MaxIdlePolls <= 0 {
		errs = append(errs, fmt.Errorf("idle detection needs a positive poll interval and poll count, got: %v x %d", c.PollInterval, c.MaxIdlePolls))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections must not be negative, got: %d", c.MaxConnections))
	}
	if c.RedisAddr != "" && c.StatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("stats interval must be positive, got: %v", c.StatsInterval))
	}
	return errors.Join(errs...)
}

// ListenAddr is the host:port the proxy binds to.
func (c *ProxyConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// LogSettings logs the current proxy configuration settings
func (c *ProxyConfig) LogSettings(logger *log.Logger) {
	logger.Printf("Listen Address: %s", c.ListenAddr())
	logger.Printf("Status message: %s", c.StatusMessage)
	logger.Printf("Timeouts: connect=%v read=%v idle=%v (%d x %v)",
		c.ConnectTimeout, c.ReadTimeout, c.PollInterval*time.Duration(c.MaxIdlePolls), c.MaxIdlePolls, c.PollInterval)
	logger.Printf("Relay Buffer Size: %d bytes", c.BufferSize)
	if c.MaxConnections > 0 {
		logger.Printf("Max Connections: %d", c.MaxConnections)
	} else {
		logger.Println("Max Connections: unlimited")
	}
	logger.Printf("SO_REUSEPORT: %v", c.ReusePort)
	if c.LogFile != "" {
		logger.Printf("Log File: %s (rotate at %d MB, keep %d)", c.LogFile, c.LogMaxSizeMB, c.LogMaxBackups)
	}
	if c.RedisAddr != "" {
		logger.Printf("Stats Publishing: %s as %q every %v", c.RedisAddr, c.Instance, c.StatsInterval)
	} else {
		logger.Println("Stats Publishing: DISABLED")
	}
}

// AdminConfig holds the settings of the optional admin API.
type AdminConfig struct {
	Addr      string `env:"FOG_ADMIN_ADDR"`       // Plain (h2c) listener; admin API is off when empty
	TLSAddr   string `env:"FOG_ADMIN_TLS_ADDR"`   // HTTPS and HTTP/3 listener
	CertFile  string `env:"FOG_ADMIN_CERT_FILE"`  // Path to the TLS certificate file
	KeyFile   string `env:"FOG_ADMIN_KEY_FILE"`   // Path to the TLS key file
	Hostname  string `env:"FOG_ADMIN_HOSTNAME"`   // Hostname for TLS certificate (Let's Encrypt)
	CertCache string `env:"FOG_ADMIN_CERT_CACHE,default=certs"`
	HTTP3     bool   `env:"FOG_ADMIN_HTTP3,default=true"`
	// Secret signs admin tokens. Without it the admin API is unauthenticated.
	Secret           string        `env:"FOG_ADMIN_SECRET"`
	MaxTokenLifetime time.Duration `env:"FOG_ADMIN_MAX_TOKEN_LIFETIME,default=24h"`
}

// NewAdminConfig loads the admin API configuration from the environment.
func NewAdminConfig() (*AdminConfig, error) {
	cfg := &AdminConfig{}
	if err := common.LoadEnvToStruct(cfg); err != nil {
		return nil, fmt.Errorf("error loading admin config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Enabled reports whether any admin listener is configured.
func (c *AdminConfig) Enabled() bool {
	return c.Addr != "" || c.TLSAddr != ""
}

// TLSEnabled reports whether the HTTPS listener should be started.
func (c *AdminConfig) TLSEnabled() bool {
	return c.TLSAddr != "" && (c.Hostname != "" || c.CertFile != "")
}

// Validate checks that the TLS settings are consistent.
func (c *AdminConfig) Validate() error {
	if (c.CertFile != "") != (c.KeyFile != "") {
		return errors.New("both FOG_ADMIN_CERT_FILE and FOG_ADMIN_KEY_FILE must be set, or neither")
	}
	if c.TLSAddr != "" && c.Hostname == "" && c.CertFile == "" {
		return errors.New("FOG_ADMIN_TLS_ADDR needs FOG_ADMIN_CERT_FILE/FOG_ADMIN_KEY_FILE or FOG_ADMIN_HOSTNAME")
	}
	if c.MaxTokenLifetime <= 0 {
		return fmt.Errorf("max token lifetime must be positive, got: %v", c.MaxTokenLifetime)
	}
	return nil
}

// LogSettings logs the admin API configuration settings
func (c *AdminConfig) LogSettings(logger *log.Logger) {
	if !c.Enabled() {
		logger.Println("Admin API: DISABLED")
		return
	}
	if c.Addr != "" {
		logger.Printf("Admin HTTP Listen Address: %s (h2c)", c.Addr)
	}
	if c.TLSEnabled() {
		logger.Printf("Admin HTTPS Listen Address: %s", c.TLSAddr)
		if c.Hostname != "" {
			logger.Printf("Admin TLS Hostname (Let's Encrypt): %s", c.Hostname)
		} else {
			logger.Printf("Admin TLS Certificate File: %s", c.CertFile)
		}
		logger.Printf("Admin HTTP/3 Support: %v", c.HTTP3)
	}
	if c.Secret != "" {
		logger.Println("Admin Token Secret: [SET]")
	} else {
		logger.Println("Admin Token Secret: NOT SET, admin API is unauthenticated")
	}
}
