// Package config loads simulator settings from YAML, .env files and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/observability"
	"github.com/signalsfoundry/netsim/internal/routing"
	"github.com/signalsfoundry/netsim/timectrl"
)

// Config is the full set of simulator knobs.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Clock   ClockConfig   `yaml:"clock"`
	Routing RoutingConfig `yaml:"routing"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`

	Tracing observability.TracingConfig `yaml:"tracing"`

	// Catalog overrides individual fields of the default catalog.
	Catalog core.Catalog `yaml:"catalog"`

	// Scenario is an optional YAML topology to build before starting.
	Scenario string `yaml:"scenario"`
}

// SessionConfig sets the economy and request targets.
type SessionConfig struct {
	Budget         int    `yaml:"budget"`
	TargetRequests int    `yaml:"targetRequests"`
	GridSize       int    `yaml:"gridSize"`
	RNGStream      string `yaml:"rngStream"`
}

// ClockConfig sets frame pacing and the windows that gate ticks and
// periodic generation.
type ClockConfig struct {
	Mode  string        `yaml:"mode"`
	Frame time.Duration `yaml:"frame"`

	// TickWindow and GenerationWindow are in game-time units (frames).
	TickWindow       float64 `yaml:"tickWindow"`
	GenerationWindow float64 `yaml:"generationWindow"`
	// PeriodicLimit stops periodic generation once this many requests exist.
	PeriodicLimit int `yaml:"periodicLimit"`

	GenerateDelay   time.Duration `yaml:"generateDelay"`
	CompletionDelay time.Duration `yaml:"completionDelay"`
}

// RoutingConfig sets the path score weights.
type RoutingConfig struct {
	LoadWeight         float64 `yaml:"loadWeight"`
	HopWeight          float64 `yaml:"hopWeight"`
	IntermediateWeight float64 `yaml:"intermediateWeight"`
}

// Weights converts the config into routing weights.
func (r RoutingConfig) Weights() routing.Weights {
	return routing.Weights{Load: r.LoadWeight, Hops: r.HopWeight, Intermediates: r.IntermediateWeight}
}

// ServerConfig sets listen addresses. Empty disables the listener.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpcAddr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// LogConfig mirrors logging.Config for the fields that can be configured.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration.
func Default() Config {
	w := routing.DefaultWeights
	return Config{
		Session: SessionConfig{
			Budget:         10000,
			TargetRequests: 20,
			GridSize:       core.DefaultGridSize,
			RNGStream:      "netsim",
		},
		Clock: ClockConfig{
			Mode:             timectrl.RealTime.String(),
			Frame:            timectrl.FrameUnit,
			TickWindow:       60,
			GenerationWindow: 180,
			PeriodicLimit:    5,
			GenerateDelay:    time.Second,
			CompletionDelay:  500 * time.Millisecond,
		},
		Routing: RoutingConfig{
			LoadWeight:         w.Load,
			HopWeight:          w.Hops,
			IntermediateWeight: w.Intermediates,
		},
		Server: ServerConfig{
			GRPCAddr:    ":50061",
			MetricsAddr: ":9091",
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// EffectiveCatalog returns the default catalog with the configured overrides.
func (c Config) EffectiveCatalog() core.Catalog {
	return core.DefaultCatalog().Merge(c.Catalog)
}

// Decode reads YAML from r over the defaults. Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// LoadDotEnv loads the given .env files into the process environment
// without overriding variables already set. A missing ".env" is not an
// error; any other missing file is.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables read through getenv.
// A nil getenv uses os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []error

	setInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	setInt("NETSIM_BUDGET", &c.Session.Budget)
	setInt("NETSIM_TARGET_REQUESTS", &c.Session.TargetRequests)
	setInt("NETSIM_GRID_SIZE", &c.Session.GridSize)
	setString("NETSIM_RNG_STREAM", &c.Session.RNGStream)
	setString("NETSIM_CLOCK_MODE", &c.Clock.Mode)
	setDuration("NETSIM_FRAME", &c.Clock.Frame)
	setString("NETSIM_GRPC_ADDR", &c.Server.GRPCAddr)
	setString("NETSIM_METRICS_ADDR", &c.Server.MetricsAddr)
	setString("NETSIM_SCENARIO", &c.Scenario)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setBool("NETSIM_TRACING_ENABLED", &c.Tracing.Enabled)
	setString("NETSIM_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	setString("NETSIM_TRACING_EXPORTER", &c.Tracing.Exporter)
	setString("NETSIM_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	setFloat("NETSIM_TRACING_SAMPLE_RATIO", &c.Tracing.SampleRatio)

	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Session.Budget < 0 {
		errs = append(errs, errors.New("session.budget must not be negative"))
	}
	if c.Session.TargetRequests < 0 {
		errs = append(errs, errors.New("session.targetRequests must not be negative"))
	}
	if c.Session.GridSize <= 0 {
		errs = append(errs, errors.New("session.gridSize must be positive"))
	}
	switch c.Clock.Mode {
	case timectrl.RealTime.String(), timectrl.Accelerated.String():
	default:
		errs = append(errs, fmt.Errorf("clock.mode %q must be realtime or accelerated", c.Clock.Mode))
	}
	if c.Clock.Frame <= 0 {
		errs = append(errs, errors.New("clock.frame must be positive"))
	}
	if c.Clock.TickWindow <= 0 || c.Clock.GenerationWindow <= 0 {
		errs = append(errs, errors.New("clock windows must be positive"))
	}
	if c.Clock.GenerateDelay < 0 || c.Clock.CompletionDelay < 0 {
		errs = append(errs, errors.New("clock delays must not be negative"))
	}
	if c.Routing.LoadWeight < 0 || c.Routing.HopWeight < 0 || c.Routing.IntermediateWeight < 0 {
		errs = append(errs, errors.New("routing weights must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "zap":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text, json or zap", c.Log.Format))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.EffectiveCatalog().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
