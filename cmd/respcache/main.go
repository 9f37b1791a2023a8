package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/respcache/respcache"
	"github.com/respcache/respcache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	redisAddrFlag      string
	lifespanFlag       time.Duration
	maxBodyFlag        int
	fallbackFlag       bool
	invalidateFlag     bool
	ageHeaderFlag      bool
	coalesceFlag       bool
	retentionFlag      time.Duration
	gcIntervalFlag     time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.StringVar(&providerFlag, "provider", "memory", "Store provider: memory, sqlite or redis")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name for the sqlite provider (use 'memory' for in-memory db)")
	flag.StringVar(&redisAddrFlag, "redis", "localhost:6379", "Redis address for the redis provider")
	flag.DurationVar(&lifespanFlag, "lifespan", time.Minute, "How long cached responses stay fresh")
	flag.IntVar(&maxBodyFlag, "max-body", respcache.DefaultMaxBodySize, "Maximum cacheable body size in bytes")
	flag.BoolVar(&fallbackFlag, "fallback", false, "Serve stale entries when the origin fails")
	flag.BoolVar(&invalidateFlag, "invalidate", false, "Honor the X-Invalidate-Cache request header")
	flag.BoolVar(&ageHeaderFlag, "age-header", false, "Add X-Cache-Age to cache-served responses")
	flag.BoolVar(&coalesceFlag, "coalesce", false, "Collapse concurrent misses into one origin call")
	flag.DurationVar(&retentionFlag, "retention", cache.DefaultRetention, "How long expired entries are kept for stale fallback")
	flag.DurationVar(&gcIntervalFlag, "gc-interval", 0, "Interval between expired-entry sweeps (0 disables)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cacheConfig := respcache.Config{
		Lifespan:          lifespanFlag,
		MaxBodySize:       maxBodyFlag,
		FallbackOnError:   fallbackFlag,
		AllowInvalidation: invalidateFlag,
		AddAgeHeader:      ageHeaderFlag,
		Coalesce:          coalesceFlag,
	}
	origin := originFlag
	provider := providerFlag
	dbFilename := dbFilenameFlag
	redisAddr := redisAddrFlag
	retention := retentionFlag
	gcInterval := gcIntervalFlag

	if configFilenameFlag != "" {
		config, err := getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
		if config.Port > 0 {
			portFlag = config.Port
		}
		if origin == "" {
			origin = config.Origin
		}
		if config.Host != "" {
			hostFlag = config.Host
		}
		if config.Provider != "" {
			provider = config.Provider
		}
		if config.DBFile != "" {
			dbFilename = config.DBFile
		}
		if config.RedisAddr != "" {
			redisAddr = config.RedisAddr
		}
		if config.MaxBodySize > 0 {
			cacheConfig.MaxBodySize = config.MaxBodySize
		}
		cacheConfig.FallbackOnError = cacheConfig.FallbackOnError || config.Fallback
		cacheConfig.AllowInvalidation = cacheConfig.AllowInvalidation || config.Invalidate
		cacheConfig.AddAgeHeader = cacheConfig.AddAgeHeader || config.AgeHeader
		cacheConfig.Coalesce = cacheConfig.Coalesce || config.Coalesce
		if d, err := duration(config.Lifespan, cacheConfig.Lifespan); err != nil {
			log.Fatal().Err(err).Msg("Invalid lifespan in config")
		} else {
			cacheConfig.Lifespan = d
		}
		if d, err := duration(config.Retention, retention); err != nil {
			log.Fatal().Err(err).Msg("Invalid retention in config")
		} else {
			retention = d
		}
		if d, err := duration(config.GCInterval, gcInterval); err != nil {
			log.Fatal().Err(err).Msg("Invalid gcInterval in config")
		} else {
			gcInterval = d
		}
	}

	// use configured provider, fail if unknown
	switch provider {
	case "memory":
		cacheConfig.Store = cache.NewMemoryStore(0, retention)
	case "sqlite":
		if dbFilename == "memory" {
			dbFilename = ""
		}
		store, err := cache.NewSQLiteStore(dbFilename, retention)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open sqlite store")
		}
		cacheConfig.Store = store
	case "redis":
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", redisAddr).Msg("Could not connect to Redis")
		}
		cacheConfig.Store = cache.NewRedisStore(redisClient, retention)
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", provider)
	}

	if origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	// start a goroutine to sweep out long-expired entries
	if gcInterval > 0 {
		go sweep(cacheConfig.Store, gcInterval)
	}

	middleware := respcache.New(cacheConfig)
	upstream := respcache.NewOrigin(originURL, hostFlag)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", middleware.Middleware(upstream))

	log.Info().Msgf("Proxying port %v to %s (lifespan %s)", portFlag, originURL.String(), cacheConfig.Lifespan)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// sweep runs an infinite loop removing entries that have outlived their
// stale-fallback retention.
func sweep(store cache.Store, interval time.Duration) {
	log.Info().Msgf("Starting cache sweep loop with interval %s", interval)
	for {
		time.Sleep(interval)
		if err := store.RemoveExpired(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Could not sweep expired entries")
		}
	}
}
