// Package config parses the hypersearch command line.
//
// Every flag has an environment variable fallback; flags take precedence over
// environment variables, which take precedence over defaults. The Config
// covers:
//   - Input arrays (features, labels, format)
//   - Preprocessing (test fraction, seed)
//   - Search budget and oracle tuning (trials, initial points, beta, candidates)
//   - Training (epochs, batch size)
//   - Cutoffs (max duration, patience)
//   - Search space overrides (filters, kernel sizes, layer counts)
//   - Trial store (memory or redis)
//   - Status server (listen address, TLS)
//   - Logging (level, format) and the progress bar
//
// Example usage:
//
//	cfg, err := config.ParseFlags(os.Args[1:])
//	if err != nil { ... }
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/loader"
	"github.com/HatiCode/oceanquake/pkg/tls"
)

// Config holds all hypersearch configuration.
type Config struct {
	Features string
	Labels   string
	Format   string

	TestFraction float64
	Seed         uint64

	MaxTrials     int
	InitialPoints int
	Epochs        int
	BatchSize     int
	Beta          float64
	Candidates    int
	MaxDuration   time.Duration
	Patience      int
	Project       string

	Filters        string
	KernelSizes    string
	Activations    string
	Optimizers     string
	MinExtraLayers int
	MaxExtraLayers int

	Storage       string
	MemoryTTL     time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	Listen string
	TLS    tls.Config

	Progress  bool
	LogFormat string
	LogLevel  string
}

// ParseFlags parses args (without the program name) into a Config and
// validates it. Environment variables are used as fallbacks when flags are
// not provided.
func ParseFlags(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("hypersearch", flag.ContinueOnError)

	fs.StringVar(&cfg.Features, "features", getEnv("FEATURES", ""), "Features file (.json or .npy)")
	fs.StringVar(&cfg.Labels, "labels", getEnv("LABELS", ""), "Labels file (.json or .npy)")
	fs.StringVar(&cfg.Format, "format", getEnv("FORMAT", "auto"), "Array format: auto, json, or npy")

	fs.Float64Var(&cfg.TestFraction, "test-fraction", getEnvFloat("TEST_FRACTION", 0.2), "Fraction of samples held out for validation")
	fs.Uint64Var(&cfg.Seed, "seed", getEnvUint64("SEED", 42), "Seed for the split, the oracle and weight initialization")

	fs.IntVar(&cfg.MaxTrials, "max-trials", getEnvInt("MAX_TRIALS", 20), "Trial budget")
	fs.IntVar(&cfg.InitialPoints, "initial-points", getEnvInt("INITIAL_POINTS", 2), "Random trials before the surrogate guides the search")
	fs.IntVar(&cfg.Epochs, "epochs", getEnvInt("EPOCHS", 50), "Training epochs per trial")
	fs.IntVar(&cfg.BatchSize, "batch-size", getEnvInt("BATCH_SIZE", 32), "Mini-batch size")
	fs.Float64Var(&cfg.Beta, "beta", getEnvFloat("BETA", 2.6), "Exploration weight of the upper confidence bound")
	fs.IntVar(&cfg.Candidates, "candidates", getEnvInt("CANDIDATES", 500), "Random candidates scored per guided trial")
	fs.DurationVar(&cfg.MaxDuration, "max-duration", getEnvDuration("MAX_DURATION", 0), "Stop starting trials after this long (0 disables)")
	fs.IntVar(&cfg.Patience, "patience", getEnvInt("PATIENCE", 0), "Stop after this many trials without improvement (0 disables)")
	fs.StringVar(&cfg.Project, "project", getEnv("PROJECT", ""), "Session name in the trial store (random when empty)")

	fs.StringVar(&cfg.Filters, "filters", getEnv("FILTERS", "32,64,96,128"), "Comma-separated filter choices per layer")
	fs.StringVar(&cfg.KernelSizes, "kernel-sizes", getEnv("KERNEL_SIZES", "2,3,4"), "Comma-separated kernel height/width choices")
	fs.StringVar(&cfg.Activations, "activations", getEnv("ACTIVATIONS", "relu,tanh"), "Comma-separated activation choices")
	fs.StringVar(&cfg.Optimizers, "optimizers", getEnv("OPTIMIZERS", "adam,rmsprop"), "Comma-separated optimizer choices")
	fs.IntVar(&cfg.MinExtraLayers, "min-extra-layers", getEnvInt("MIN_EXTRA_LAYERS", 1), "Fewest additional ConvLSTM layers")
	fs.IntVar(&cfg.MaxExtraLayers, "max-extra-layers", getEnvInt("MAX_EXTRA_LAYERS", 3), "Most additional ConvLSTM layers")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Trial store: memory or redis")
	fs.DurationVar(&cfg.MemoryTTL, "memory-ttl", getEnvDuration("MEMORY_TTL", 0), "Drop idle in-memory sessions after this long (0 keeps them)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 7*24*time.Hour), "Redis session TTL")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ""), "Status server listen address (empty disables)")
	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve the status server over TLS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA file for client verification (enables mTLS)")

	fs.BoolVar(&cfg.Progress, "progress", getEnvBool("PROGRESS", true), "Show a trial progress bar on stderr")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the search cannot use.
func (c *Config) Validate() error {
	if c.Features == "" {
		return fmt.Errorf("--features is required")
	}
	if c.Labels == "" {
		return fmt.Errorf("--labels is required")
	}
	if _, err := loader.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in (0, 1), got %v", c.TestFraction)
	}
	if c.MaxTrials <= 0 {
		return fmt.Errorf("max trials must be > 0, got %d", c.MaxTrials)
	}
	if c.InitialPoints < 0 {
		return fmt.Errorf("initial points must be >= 0, got %d", c.InitialPoints)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
	}
	if c.Beta < 0 {
		return fmt.Errorf("beta must be >= 0, got %v", c.Beta)
	}
	if c.Candidates <= 0 {
		return fmt.Errorf("candidates must be > 0, got %d", c.Candidates)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("max duration must be >= 0, got %v", c.MaxDuration)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be >= 0, got %d", c.Patience)
	}

	space, err := c.Space()
	if err != nil {
		return err
	}
	if err := space.Validate(); err != nil {
		return err
	}

	switch c.Storage {
	case "memory":
		if c.MemoryTTL < 0 {
			return fmt.Errorf("memory ttl must be >= 0, got %v", c.MemoryTTL)
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("--redis-addr is required with redis storage")
		}
		if c.RedisTTL <= 0 {
			return fmt.Errorf("redis ttl must be > 0, got %v", c.RedisTTL)
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// LoaderFormat returns the parsed array format.
func (c *Config) LoaderFormat() loader.Format {
	f, _ := loader.ParseFormat(c.Format)
	return f
}

// Space builds the search space from the default space and the overrides.
func (c *Config) Space() (hyper.Space, error) {
	space := hyper.DefaultSpace()

	filters, err := parseIntList("filters", c.Filters)
	if err != nil {
		return hyper.Space{}, err
	}
	kernels, err := parseIntList("kernel sizes", c.KernelSizes)
	if err != nil {
		return hyper.Space{}, err
	}
	activations, err := parseChoices("activations", c.Activations, []hyper.Activation{hyper.ReLU, hyper.Tanh})
	if err != nil {
		return hyper.Space{}, err
	}
	optimizers, err := parseChoices("optimizers", c.Optimizers, []hyper.Optimizer{hyper.Adam, hyper.RMSprop})
	if err != nil {
		return hyper.Space{}, err
	}

	space.Filters = filters
	space.KernelSizes = kernels
	space.Activations = activations
	space.Optimizers = optimizers
	space.MinExtraLayers = c.MinExtraLayers
	space.MaxExtraLayers = c.MaxExtraLayers
	return space, nil
}

func parseIntList(name, s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", name, part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", name)
	}
	return out, nil
}

func parseChoices[T ~string](name, s string, legal []T) ([]T, error) {
	var out []T
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, l := range legal {
			if string(l) == part {
				out = append(out, l)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid %s value %q", name, part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", name)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
