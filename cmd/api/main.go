package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/logging"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(os.Stdout, cfg.Env == appconf.Production, level)
	slog.SetDefault(logger)

	coreApp, err := BuildApplication(cfg)
	if err != nil {
		logging.LogError(logger, "failed to build application", err)
		os.Exit(1)
	}

	srv, api, err := CreateServer(coreApp, cfg)
	if err != nil {
		logging.LogError(logger, "failed to create server", err)
		coreApp.Close()
		os.Exit(1)
	}

	if err := Run(srv, coreApp, api); err != nil {
		logging.LogError(logger, "server stopped with error", err)
		os.Exit(1)
	}
}

// parseConfig builds the configuration from defaults, an optional config
// file, and the command line, in that order of precedence.
func parseConfig(args []string) (appconf.Config, error) {
	fs := flag.NewFlagSet("buszy", flag.ContinueOnError)

	defaults := appconf.Defaults()
	var (
		configPath   = fs.String("config", "", "Path to a JSON or YAML configuration file")
		port         = fs.Int("port", defaults.Port, "API server port")
		env          = fs.String("env", defaults.Env.String(), "Environment (development|test|production)")
		apiKeys      = fs.String("api-keys", "", "Comma separated API keys")
		exemptKeys   = fs.String("exempt-api-keys", "", "Comma separated API keys exempt from rate limiting")
		rateLimit    = fs.Int("rate-limit", defaults.RateLimit, "Requests per second per API key")
		verbose      = fs.Bool("verbose", false, "Log at debug level")
		logLevel     = fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
		upstreamURL  = fs.String("upstream-url", defaults.UpstreamURL, "Bus arrival API base URL")
		upstreamKey  = fs.String("upstream-api-key", "", "Bus arrival API account key")
		dataPath     = fs.String("data-path", defaults.DataPath, "SQLite database path (:memory: allowed)")
		staticDir    = fs.String("static-dir", defaults.StaticDir, "Directory holding data/ with rail and delay files")
		pollInterval = fs.Duration("poll-interval", defaults.PollInterval, "Arrival poll interval")
		debounce     = fs.Duration("debounce", defaults.Debounce, "Stop code input debounce")
		corsOrigins  = fs.String("cors-origins", "", "Comma separated allowed CORS origins")
		sessionIdle  = fs.Duration("session-idle", defaults.SessionIdle, "Idle time before a session is evicted")
		cacheSize    = fs.Int("worker-cache-size", defaults.WorkerCacheSize, "Worker response cache entries")
	)
	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, err
	}

	cfg := defaults
	if *configPath != "" {
		fileCfg, err := appconf.LoadFromFile(*configPath)
		if err != nil {
			return appconf.Config{}, err
		}
		cfg = fileCfg.ToAppConfig()
	}

	// Flags given explicitly win over the file.
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "env":
			cfg.Env = appconf.EnvFlagToEnvironment(*env)
		case "api-keys":
			cfg.ApiKeys = ParseAPIKeys(*apiKeys)
		case "exempt-api-keys":
			cfg.ExemptApiKeys = ParseAPIKeys(*exemptKeys)
		case "rate-limit":
			cfg.RateLimit = *rateLimit
		case "verbose":
			cfg.Verbose = *verbose
		case "log-level":
			cfg.LogLevel = *logLevel
		case "upstream-url":
			cfg.UpstreamURL = strings.TrimRight(*upstreamURL, "/")
		case "upstream-api-key":
			cfg.UpstreamAPIKey = *upstreamKey
		case "data-path":
			cfg.DataPath = *dataPath
		case "static-dir":
			cfg.StaticDir = *staticDir
		case "poll-interval":
			if *pollInterval < 250*time.Millisecond {
				flagErr = fmt.Errorf("poll-interval must be at least 250ms, got %s", *pollInterval)
			}
			cfg.PollInterval = *pollInterval
		case "debounce":
			cfg.Debounce = *debounce
		case "cors-origins":
			cfg.CORSOrigins = ParseAPIKeys(*corsOrigins)
		case "session-idle":
			cfg.SessionIdle = *sessionIdle
		case "worker-cache-size":
			cfg.WorkerCacheSize = *cacheSize
		}
	})
	if flagErr != nil {
		return appconf.Config{}, flagErr
	}
	if cfg.UpstreamAPIKey == "" {
		cfg.UpstreamAPIKey = os.Getenv("LTA_ACCOUNT_KEY")
	}
	return cfg, nil
}

// ParseAPIKeys splits a comma separated list and trims each entry.
func ParseAPIKeys(apiKeysFlag string) []string {
	if apiKeysFlag == "" {
		return []string{}
	}
	keys := strings.Split(apiKeysFlag, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	return keys
}
