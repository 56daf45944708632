// Command control serves an aggregated view of the statistics every fog
// proxy publishes to Redis.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/strseb/fogproxy/pkg/common"
	"github.com/strseb/fogproxy/pkg/common/auth"
)

type Config struct {
	ListenAddr       string        `env:"FOG_CONTROL_ADDR,default=localhost:8080"`
	RedisAddr        string        `env:"FOG_REDIS_ADDR,default=localhost:6379"`
	RedisPassword    string        `env:"FOG_REDIS_PASSWORD"`
	RedisDB          int           `env:"FOG_REDIS_DB,default=0"`
	AuthSecret       string        `env:"FOG_ADMIN_SECRET"`
	MaxTokenLifetime time.Duration `env:"FOG_ADMIN_MAX_TOKEN_LIFETIME,default=24h"`
}

func main() {
	if err := common.ImportDotenv(); err != nil {
		log.Printf("Warning: failed to import .env: %v", err)
	}
	cfg := &Config{}
	if err := common.LoadEnvToStruct(cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Successfully connected to Redis")

	var validator *auth.JWTValidator
	if cfg.AuthSecret != "" {
		// Revocations made through any proxy's admin API apply here too.
		revocations := auth.NewSharedRevocationList(cfg.MaxTokenLifetime, auth.NewRedisRevocationStore(rdb))
		validator = auth.NewJWTValidator([]byte(cfg.AuthSecret), revocations)
	} else {
		log.Println("FOG_ADMIN_SECRET not set, control API is unauthenticated")
	}

	r := createRouter(NewRedisDatabase(rdb), validator)

	log.Printf("Starting control server on %s", cfg.ListenAddr)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Control server error: %v", err)
	}
}
