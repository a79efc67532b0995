package appconf

import (
	"path/filepath"
	"time"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the -env flag / "env" config value.
func EnvFlagToEnvironment(env string) Environment {
	switch env {
	case "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

const (
	DefaultPort              = 4000
	DefaultPollInterval      = 2000 * time.Millisecond
	DefaultDebounce          = 300 * time.Millisecond
	DefaultSessionIdle       = 30 * time.Minute
	DefaultWorkerCacheSize   = 512
	DefaultUpstreamURL       = "https://bat-lta-9eb7bbf231a2.herokuapp.com"
	DefaultNearbyRadiusKm    = 2.0
	DefaultRateLimit         = 100
	DefaultStaticDir         = "./static"
	DefaultDataPath          = "./buszy.db"
	DefaultLocationCacheTTL  = 10 * time.Minute
	DefaultRailLoadAttempts  = 3
	DefaultRailRetryStep     = time.Second
	DefaultUpstreamTimeout   = 10 * time.Second
	DefaultStopCachePageSize = 500
)

// Config holds the runtime configuration of the service.
type Config struct {
	Port            int
	Env             Environment
	ApiKeys         []string
	ExemptApiKeys   []string
	Verbose         bool
	RateLimit       int
	LogLevel        string
	UpstreamURL     string
	UpstreamAPIKey  string
	DataPath        string
	StaticDir       string
	PollInterval    time.Duration
	Debounce        time.Duration
	CORSOrigins     []string
	SessionIdle     time.Duration
	WorkerCacheSize int
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		Port:            DefaultPort,
		Env:             Development,
		RateLimit:       DefaultRateLimit,
		LogLevel:        "info",
		UpstreamURL:     DefaultUpstreamURL,
		DataPath:        DefaultDataPath,
		StaticDir:       DefaultStaticDir,
		PollInterval:    DefaultPollInterval,
		Debounce:        DefaultDebounce,
		SessionIdle:     DefaultSessionIdle,
		WorkerCacheSize: DefaultWorkerCacheSize,
	}
}

// DataDir is the directory under StaticDir holding the rail timetables and
// delay history. It is also served under /data/.
func (c Config) DataDir() string {
	return filepath.Join(c.StaticDir, "data")
}
