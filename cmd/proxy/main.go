/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/natefinch/lumberjack"
	"github.com/redis/go-redis/v9"
	"github.com/strseb/fogproxy/pkg/common"
	"github.com/strseb/fogproxy/pkg/common/auth"
	"github.com/strseb/fogproxy/pkg/proxy"
	"github.com/strseb/fogproxy/pkg/stats"
)

const (
	asciiArt = `
  ___         _        _     ___
 | _ \_ _ ___(_)___ __| |_  | __|__  __ _
 |  _/ '_/ _ \ / -_) _|  _| | _/ _ \/ _' |
 |_| |_| \___/ \___\__|\__| |_|\___/\__, |
            |__/                    |___/
`
)

func printBanner(w io.Writer, statusMessage string) {
	color.New(color.FgCyan, color.Bold).Fprint(w, asciiArt)
	color.New(color.FgHiBlack).Fprintf(w, " Forward proxy standing by: %s\n\n", statusMessage)
}

// newLogger writes to stdout and, when configured, to a rotating log file.
func newLogger(cfg *ProxyConfig) (*log.Logger, io.Closer) {
	if cfg.LogFile == "" {
		return log.New(os.Stdout, "", log.LstdFlags), nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, file), "", log.LstdFlags), file
}

func newHandler(cfg *ProxyConfig, logger *log.Logger, observer proxy.Observer) *proxy.Handler {
	handler := proxy.NewHandler(cfg.StatusMessage, logger)
	handler.ReadTimeout = cfg.ReadTimeout
	handler.BufferSize = cfg.BufferSize
	handler.Dialer = proxy.NewConnector(cfg.ConnectTimeout)
	handler.Relay = &proxy.Relay{
		BufferSize:   cfg.BufferSize,
		PollInterval: cfg.PollInterval,
		MaxIdlePolls: cfg.MaxIdlePolls,
	}
	handler.Observer = observer
	return handler
}

func main() {
	if err := common.ImportDotenv(); err != nil {
		log.Printf("Warning: failed to import .env: %v", err)
	}
	proxyCfg, err := NewProxyConfig()
	if err != nil {
		log.Fatalf("Proxy configuration error: %v", err)
	}
	if err := proxyCfg.ApplyArgs(os.Args[1:]); err != nil {
		log.Fatalf("Proxy configuration error: %v", err)
	}
	if err := proxyCfg.Validate(); err != nil {
		log.Fatalf("Proxy configuration error: %v", err)
	}
	adminCfg, err := NewAdminConfig()
	if err != nil {
		log.Fatalf("Admin configuration error: %v", err)
	}

	logger, logFile := newLogger(proxyCfg)
	if logFile != nil {
		defer logFile.Close()
	}
	printBanner(os.Stdout, proxyCfg.StatusMessage)
	proxyCfg.LogSettings(logger)
	adminCfg.LogSettings(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counters := stats.NewCounters()

	// Redis carries the published stats and the fleet-wide token revocations.
	var rdb *redis.Client
	if proxyCfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     proxyCfg.RedisAddr,
			Password: proxyCfg.RedisPassword,
			DB:       proxyCfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Printf("[Stats] Warning: Redis at %s not reachable yet: %v", proxyCfg.RedisAddr, err)
		}
		cancel()
	}

	var publisherDone chan struct{}
	if rdb != nil {
		publisher := &stats.Publisher{
			Instance: proxyCfg.Instance,
			Counters: counters,
			Store:    stats.NewRedisStore(rdb),
			Interval: proxyCfg.StatsInterval,
			Logger:   logger,
		}
		publisherDone = make(chan struct{})
		go func() {
			defer close(publisherDone)
			publisher.Run(ctx)
		}()
	}

	var admin *AdminServers
	if adminCfg.Enabled() {
		var validator *auth.JWTValidator
		if adminCfg.Secret != "" {
			var store auth.RevocationStore
			if rdb != nil {
				store = auth.NewRedisRevocationStore(rdb)
			} else {
				logger.Println("[Admin] FOG_REDIS_ADDR not set, token revocations stay local to this process")
			}
			revocations := auth.NewSharedRevocationList(adminCfg.MaxTokenLifetime, store)
			validator = auth.NewJWTValidator([]byte(adminCfg.Secret), revocations)
		}
		router := createAdminRouter(proxyCfg.StatusMessage, counters, validator, logger)
		admin = NewAdminServers(adminCfg, router, logger)
		admin.Start()
	}

	server := &proxy.Server{
		Addr:           proxyCfg.ListenAddr(),
		Handler:        newHandler(proxyCfg, logger, counters),
		Logger:         logger,
		MaxConnections: proxyCfg.MaxConnections,
		ReusePort:      proxyCfg.ReusePort,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logger.Printf("[Proxy] Project Fog Proxy started on %s", proxyCfg.ListenAddr())
	logger.Printf("[Proxy] Status message: %s", proxyCfg.StatusMessage)

	exitCode := 0
	select {
	case <-ctx.Done():
		if err := server.Shutdown(); err != nil {
			logger.Printf("[Proxy] Error closing listener: %v", err)
		}
		<-serveErr
	case err := <-serveErr:
		if !errors.Is(err, proxy.ErrServerClosed) {
			if errors.Is(err, syscall.EACCES) {
				logger.Printf("[Proxy] Permission denied for port %d. Try running as root or use port > 1024.", proxyCfg.Port)
			} else {
				logger.Printf("[Proxy] Cannot serve on %s: %v", proxyCfg.ListenAddr(), err)
			}
			exitCode = 1
		}
		stop()
	}

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Printf("[Admin] Error during shutdown: %v", err)
		}
		cancel()
	}
	if publisherDone != nil {
		<-publisherDone
	}
	logger.Println("[Proxy] Project Fog Proxy has shut down.")
	if exitCode != 0 {
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(exitCode)
	}
}
