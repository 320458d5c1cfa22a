package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/always-cache/grache"
	"github.com/always-cache/grache/cache"
	cachekey "github.com/always-cache/grache/pkg/cache-key"
	"github.com/always-cache/grache/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	upstreamFlag       string
	cacheFlag          string
	dbFilenameFlag     string
	configFilenameFlag string
	maxBodyFlag        int64
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

const upstreamTimeout = 30 * time.Second

func init() {
	flag.IntVar(&portFlag, "port", 3333, "Port to listen on (env PORT)")
	flag.StringVar(&upstreamFlag, "upstream", "", "Default upstream GraphQL URL (env URL)")
	flag.StringVar(&cacheFlag, "cache", "redis", "Cache backend: redis, sqlite or memory")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "SQLite cache file name (use 'memory' for in-memory db)")
	flag.StringVar(&configFilenameFlag, "config", "", "YAML config file")
	flag.Int64Var(&maxBodyFlag, "max-body", 0, "Maximum request body size in bytes (0 for no limit)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	config, err := loadConfig(flag.CommandLine, configFilenameFlag, os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.LogFile != "" {
		if logFileOutput, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	ctx := context.Background()
	provider, err := createProvider(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Str("cache", config.Cache).Msg("Could not set up cache")
	}

	m := metrics.New()
	g := grache.CreateProxy(grache.Config{
		Cache:              provider,
		DefaultUpstreamURL: config.Upstream,
		Client:             &http.Client{Timeout: upstreamTimeout},
		Auth:               createAuth(config.Auth),
		Logger:             &log.Logger,
		Metrics:            m,
		MaxBodyBytes:       config.MaxBodyBytes,
	})

	log.Info().Msgf("Proxying port %v to %s (cache: %s)", config.Port, config.Upstream, config.Cache)
	err = http.ListenAndServe(fmt.Sprintf(":%d", config.Port), grache.NewRouter(g, m))

	if err != nil {
		panic(err)
	}
}

func createProvider(ctx context.Context, config Config) (cache.CacheProvider, error) {
	switch config.Cache {
	case "memory":
		return cache.NewMemCache(), nil
	case "sqlite":
		// set up sqlite memory provider
		dbFilename := config.DB
		if dbFilename == "memory" {
			dbFilename = "file::memory:?cache=shared"
		}
		sqlite, err := cache.NewSQLiteCache(dbFilename)
		if err != nil {
			return nil, err
		}
		go sqlite.Sweep(ctx, time.Minute, log.Logger)
		return sqlite, nil
	default:
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Address:   config.Redis.Host,
			Password:  config.Redis.Password,
			DB:        config.Redis.DB,
			KeyPrefix: config.Redis.KeyPrefix,
		})
	}
}

func createAuth(config AuthConfig) cachekey.AuthExtractor {
	if config.Scheme == "bearer" {
		return cachekey.BearerAuth{SignatureHeader: config.SignatureHeader}
	}
	auth := cachekey.DefaultCookieAuth
	if config.TokenCookie != "" {
		auth.TokenCookie = config.TokenCookie
	}
	if config.SignatureCookie != "" {
		auth.SignatureCookie = config.SignatureCookie
	}
	return auth
}
