// Package config loads docagg configuration from defaults, an optional
// config file and DOCAGG_ environment variables, then validates it against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable: DOCAGG_SERVER_PORT sets
// server.port.
const EnvPrefix = "DOCAGG"

//go:embed schema.cue
var schemaSource string

type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Router   RouterConfig   `mapstructure:"router" json:"router"`
	Events   EventsConfig   `mapstructure:"events" json:"events"`
	Bench    BenchConfig    `mapstructure:"bench" json:"bench"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" json:"dsn"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" json:"port"`
}

type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	Format    string `mapstructure:"format" json:"format"`
	AddSource bool   `mapstructure:"add_source" json:"addSource"`
}

type RouterConfig struct {
	// ForceFallback is the initial value of the fallback override.
	ForceFallback         bool `mapstructure:"force_fallback" json:"forceFallback"`
	FallbackOnEngineError bool `mapstructure:"fallback_on_engine_error" json:"fallbackOnEngineError"`
	MaxStages             int  `mapstructure:"max_stages" json:"maxStages"`
}

type EventsConfig struct {
	// Buffer is the event bus channel size.
	Buffer int `mapstructure:"buffer" json:"buffer"`
	// RunCapacity is how many recent runs the run log keeps.
	RunCapacity int `mapstructure:"run_capacity" json:"runCapacity"`
}

type BenchConfig struct {
	Workers    int `mapstructure:"workers" json:"workers"`
	Iterations int `mapstructure:"iterations" json:"iterations"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{DSN: "file:docagg.db?_pragma=busy_timeout(5000)"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "INFO", Format: "text"},
		Router: RouterConfig{
			FallbackOnEngineError: true,
			MaxStages:             64,
		},
		Events: EventsConfig{Buffer: 256, RunCapacity: 1000},
		Bench:  BenchConfig{Workers: 4, Iterations: 50},
	}
}

// Load reads configuration. file may be empty.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToUpper(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("router.force_fallback", d.Router.ForceFallback)
	v.SetDefault("router.fallback_on_engine_error", d.Router.FallbackOnEngineError)
	v.SetDefault("router.max_stages", d.Router.MaxStages)
	v.SetDefault("events.buffer", d.Events.Buffer)
	v.SetDefault("events.run_capacity", d.Events.RunCapacity)
	v.SetDefault("bench.workers", d.Bench.Workers)
	v.SetDefault("bench.iterations", d.Bench.Iterations)
}

// ValidationError carries the CUE error text for an invalid configuration.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Details
}

// Validate checks cfg against the embedded schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		var details []string
		for _, e := range cueerrors.Errors(err) {
			details = append(details, e.Error())
		}
		if len(details) == 0 {
			return &ValidationError{Details: err.Error()}
		}
		return &ValidationError{Details: strings.Join(details, "; ")}
	}
	return nil
}

// IsValidationError reports whether err came from schema validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
