package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/api"
	"github.com/anonchat/anonchat/internal/cache"
	"github.com/anonchat/anonchat/internal/config"
	"github.com/anonchat/anonchat/internal/stats"
	"github.com/anonchat/anonchat/internal/store"
	"github.com/anonchat/anonchat/internal/stream"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

var (
	addr           string
	mongoURI       string
	mongoDatabase  string
	redisAddr      string
	redisPassword  string
	fanoutMode     string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	// Flags override environment, environment overrides .env.
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("ANONCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&mongoURI, "mongo-uri", envOr("ANONCHAT_MONGO_URI", "mongodb://localhost:27017"), "mongodb connection string")
	flag.StringVar(&mongoDatabase, "mongo-db", envOr("ANONCHAT_MONGO_DB", "anonchat"), "mongodb database name")
	flag.StringVar(&redisAddr, "redis-addr", envOr("ANONCHAT_REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&redisPassword, "redis-password", envOr("ANONCHAT_REDIS_PASSWORD", ""), "redis password")
	flag.StringVar(&fanoutMode, "fanout-mode", envOr("ANONCHAT_FANOUT_MODE", config.FanoutPush), "fan-out strategy: push or poll")
	flag.StringVar(&signingKey, "signing-key", envOr("ANONCHAT_SIGNING_KEY", ""), "base64 encoded signing key, empty disables token verification")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "anonchat").Logger()

	cfg, err := config.NewConfig(addr, mongoURI, mongoDatabase, redisAddr, redisPassword, fanoutMode, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	repo := store.NewMongoRepository(logger, cfg.MongoURI, cfg.MongoDatabase, cfg.ActiveUserStaleness)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("mongo close")
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	buffer := cache.NewBuffer(rdb, logger)
	msgLimiter := cache.NewLimiter(rdb, logger, time.Minute, api.UserMessageLimit)
	ipLimiter := cache.NewLimiter(rdb, logger, time.Minute, api.IPRequestLimit)

	mux := http.NewServeMux()

	statsUpdater := stats.NewUpdater(mux)

	registry := stream.NewRegistry(logger, statsUpdater)

	fanoutCtx, fanoutCancel := context.WithCancel(context.Background())
	defer fanoutCancel()

	var fanout stream.Fanout
	switch cfg.FanoutMode {
	case config.FanoutPoll:
		fanout = stream.NewPollFanout(buffer, registry, logger)
	default:
		psf := stream.NewPubSubFanout(rdb, registry, logger)
		go psf.Run(fanoutCtx)
		fanout = psf
	}

	app := api.NewAnonChatApp(mux, logger, repo, buffer, fanout, msgLimiter, ipLimiter, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server shutdown")
	}

	fanoutCancel()

	logger.Info().Msg("shutdown complete")
}
