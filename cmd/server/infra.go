package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shop-assist/internal/adapters/gateway"
	"shop-assist/internal/config"
	"shop-assist/internal/core/ports"
)

// setupLogger configures the global zerolog logger
func setupLogger(app config.AppConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(app.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("service", "shop-assist").Logger()
}

// startupRetry is the bounded policy for reaching dependencies that may
// still be starting (containers come up in any order).
func startupRetry(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

// connectMariaDB opens the pool and waits until the server answers
func connectMariaDB(ctx context.Context, dbCfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", dbCfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("configure mariadb driver: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("host", dbCfg.Host).Msg("cannot ping mariadb")
			return err
		}
		return nil
	}, startupRetry(ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mariadb after %d attempts: %w", attempt, err)
	}
	log.Info().Str("host", dbCfg.Host).Int("port", dbCfg.Port).Str("database", dbCfg.Database).Msg("mariadb connection established")
	return db, nil
}

// connectRedis returns a client once Redis answers a PING
func connectRedis(ctx context.Context, redisCfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("addr", redisCfg.Addr).Msg("cannot ping redis")
			return err
		}
		return nil
	}, startupRetry(ctx))
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis after %d attempts: %w", attempt, err)
	}
	log.Info().Str("addr", redisCfg.Addr).Msg("redis connection established")
	return rdb, nil
}

// newTokenSource prefers a personal access token, else the OAuth JWT app
func newTokenSource(coze config.CozeConfig) (ports.TokenSource, error) {
	if token := strings.TrimSpace(coze.APIToken); token != "" {
		return gateway.StaticTokenSource(token), nil
	}
	key, err := gateway.LoadPrivateKey(coze.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	return gateway.NewJWTTokenSource(coze.BaseURL, coze.AppID, coze.KeyID, key, log.Logger), nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
