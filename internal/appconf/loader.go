package appconf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Both JSON and YAML
// files use the same kebab-case keys.
type FileConfig struct {
	Port            int      `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Env             string   `json:"env" yaml:"env" validate:"omitempty,oneof=development test production"`
	ApiKeys         []string `json:"api-keys" yaml:"api-keys"`
	ExemptApiKeys   []string `json:"exempt-api-keys" yaml:"exempt-api-keys"`
	RateLimit       int      `json:"rate-limit" yaml:"rate-limit" validate:"gte=0"`
	Verbose         bool     `json:"verbose" yaml:"verbose"`
	LogLevel        string   `json:"log-level" yaml:"log-level" validate:"omitempty,oneof=debug info warn error"`
	UpstreamURL     string   `json:"upstream-url" yaml:"upstream-url" validate:"omitempty,url"`
	UpstreamAPIKey  string   `json:"upstream-api-key" yaml:"upstream-api-key"`
	DataPath        string   `json:"data-path" yaml:"data-path"`
	StaticDir       string   `json:"static-dir" yaml:"static-dir"`
	PollIntervalMs  int      `json:"poll-interval-ms" yaml:"poll-interval-ms" validate:"omitempty,gte=250"`
	DebounceMs      int      `json:"debounce-ms" yaml:"debounce-ms" validate:"gte=0"`
	CORSOrigins     []string `json:"cors-origins" yaml:"cors-origins" validate:"dive,required"`
	SessionIdleMin  int      `json:"session-idle-minutes" yaml:"session-idle-minutes" validate:"gte=0"`
	WorkerCacheSize int      `json:"worker-cache-size" yaml:"worker-cache-size" validate:"gte=0"`
}

var validate = validator.New()

// LoadFromFile reads a JSON or YAML configuration file, chosen by extension.
func LoadFromFile(path string) (*FileConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %q is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and reports every failing field.
func (c *FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ToAppConfig overlays the file values onto the defaults.
func (c *FileConfig) ToAppConfig() Config {
	cfg := Defaults()
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.Env != "" {
		cfg.Env = EnvFlagToEnvironment(c.Env)
	}
	if c.ApiKeys != nil {
		cfg.ApiKeys = c.ApiKeys
	}
	cfg.ExemptApiKeys = c.ExemptApiKeys
	if c.RateLimit != 0 {
		cfg.RateLimit = c.RateLimit
	}
	cfg.Verbose = c.Verbose
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.UpstreamURL != "" {
		cfg.UpstreamURL = strings.TrimRight(c.UpstreamURL, "/")
	}
	cfg.UpstreamAPIKey = c.UpstreamAPIKey
	if c.DataPath != "" {
		cfg.DataPath = c.DataPath
	}
	if c.StaticDir != "" {
		cfg.StaticDir = c.StaticDir
	}
	if c.PollIntervalMs != 0 {
		cfg.PollInterval = time.Duration(c.PollIntervalMs) * time.Millisecond
	}
	if c.DebounceMs != 0 {
		cfg.Debounce = time.Duration(c.DebounceMs) * time.Millisecond
	}
	cfg.CORSOrigins = c.CORSOrigins
	if c.SessionIdleMin != 0 {
		cfg.SessionIdle = time.Duration(c.SessionIdleMin) * time.Minute
	}
	if c.WorkerCacheSize != 0 {
		cfg.WorkerCacheSize = c.WorkerCacheSize
	}
	return cfg
}
