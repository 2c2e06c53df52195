package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// MatchIndexExact and MatchIndexHNSW are the accepted MATCH_INDEX values.
const (
	MatchIndexExact = "exact"
	MatchIndexHNSW  = "hnsw"
)

// DefaultAdminKey disables the admin key check when left unchanged.
const DefaultAdminKey = "changeme"

type Config struct {
	DataDir               string         `yaml:"data_dir"`
	Threshold             float64        `yaml:"threshold"`
	LandmarkCount         int            `yaml:"landmark_count"`
	SignaturesPerIdentity int            `yaml:"signatures_per_identity"`
	MatchIndex            string         `yaml:"match_index"`
	IndexCacheTTL         time.Duration  `yaml:"index_cache_ttl"`
	LogLevel              string         `yaml:"log_level"`
	AdminKey              string         `yaml:"admin_key"`
	Web                   WebConfig      `yaml:"web"`
	Detector              DetectorConfig `yaml:"detector"`
	Store                 StoreConfig    `yaml:"store"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for the HTTP listener.
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DetectorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AdminKeyRequired reports whether destructive endpoints must present the admin key.
func (c *Config) AdminKeyRequired() bool {
	return c.AdminKey != "" && c.AdminKey != DefaultAdminKey
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string ("30s", "100ms"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, dropping blank items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded defaults without applying the environment.
func Defaults() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

// Load returns the embedded defaults overridden by environment variables.
func Load() *Config {
	d := Defaults()

	return &Config{
		DataDir:               envString("DATA_DIR", d.DataDir),
		Threshold:             envFloat("THRESHOLD", d.Threshold),
		LandmarkCount:         envInt("LANDMARK_COUNT", d.LandmarkCount),
		SignaturesPerIdentity: envInt("SIGNATURES_PER_IDENTITY", d.SignaturesPerIdentity),
		MatchIndex:            envString("MATCH_INDEX", d.MatchIndex),
		IndexCacheTTL:         envDuration("INDEX_CACHE_TTL", d.IndexCacheTTL),
		LogLevel:              envString("LOG_LEVEL", d.LogLevel),
		AdminKey:              envString("ADMIN_KEY", d.AdminKey),
		Web: WebConfig{
			Host: envString("HOST", d.Web.Host),
			Port: envInt("PORT", d.Web.Port),

			AllowedOrigins: envList("ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Detector: DetectorConfig{
			URL:     envString("DETECTOR_URL", d.Detector.URL),
			Timeout: envDuration("DETECTOR_TIMEOUT", d.Detector.Timeout),
		},
		Store: StoreConfig{
			Attempts:   envInt("STORE_ATTEMPTS", d.Store.Attempts),
			RetryDelay: envDuration("STORE_RETRY_DELAY", d.Store.RetryDelay),
		},
	}
}

// Validate checks values that would make the core misbehave silently.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR must not be empty"))
	}
	if c.Threshold <= 0 || c.Threshold > 2 {
		errs = append(errs, fmt.Errorf("THRESHOLD must be in (0, 2], got %g", c.Threshold))
	}
	if c.LandmarkCount <= 0 {
		errs = append(errs, fmt.Errorf("LANDMARK_COUNT must be positive, got %d", c.LandmarkCount))
	}
	if c.SignaturesPerIdentity != 5 {
		errs = append(errs, fmt.Errorf("SIGNATURES_PER_IDENTITY must be 5, got %d", c.SignaturesPerIdentity))
	}
	if c.MatchIndex != MatchIndexExact && c.MatchIndex != MatchIndexHNSW {
		errs = append(errs, fmt.Errorf("MATCH_INDEX must be %q or %q, got %q", MatchIndexExact, MatchIndexHNSW, c.MatchIndex))
	}
	if c.Store.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("STORE_ATTEMPTS must be positive, got %d", c.Store.Attempts))
	}
	return errors.Join(errs...)
}
