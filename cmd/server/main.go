package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dropslot/internal/app"
	"dropslot/internal/auth"
	"dropslot/internal/blob"
	"dropslot/internal/config"
	"dropslot/internal/domain"
	"dropslot/internal/engine"
	"dropslot/internal/storage"
	"dropslot/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.LogLevel)

	blobs, err := blob.NewFSStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blob store")
	}

	var store domain.Storage
	var rdb *redis.Client
	switch cfg.StoreBackend {
	case config.BackendBolt:
		bolt, err := storage.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open bolt store")
		}
		defer bolt.Close()
		store = bolt
		log.Info().Str("path", cfg.BoltPath).Msg("using bolt metadata store")
	default:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse redis url")
		}
		opt.PoolSize = cfg.RedisPoolSize
		opt.MinIdleConns = cfg.RedisMinIdle
		opt.DialTimeout = cfg.RedisDialTimeout
		opt.ReadTimeout = cfg.RedisReadTimeout
		opt.WriteTimeout = cfg.RedisWriteTimeout
		opt.PoolTimeout = cfg.RedisPoolTimeout

		rdb = redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		store = storage.NewRedisStore(rdb)
		log.Info().Msg("using redis metadata store")
	}

	tokens := auth.NewTokenIssuer(tokenSecret(cfg))
	eng := engine.New(store, blobs, tokens, engine.WithLogger(log.Logger))

	sweeper := sweep.New(eng,
		sweep.WithInterval(cfg.SweepInterval),
		sweep.WithLogger(log.Logger))
	sweeper.Start()
	defer sweeper.Stop()

	var limiter *app.RateLimiterMiddleware
	if rdb != nil {
		limiter = app.NewRateLimiter(rdb, app.DefaultRateLimitConfig())
	}

	handler := app.NewHandler(eng)
	router := app.NewRouter(handler, app.RouterConfig{
		RequireHTTPS: cfg.RequireHTTPS,
		RateLimiter:  limiter,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// tokenSecret returns the configured signing secret, or a random one.
// A random secret invalidates outstanding download tokens on restart, which
// only forces clients to re-run access.
func tokenSecret(cfg config.Config) []byte {
	if cfg.TokenSecret != "" {
		return []byte(cfg.TokenSecret)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatal().Err(err).Msg("failed to generate token secret")
	}
	return secret
}
