// Package config loads agent configuration from defaults, an optional
// YAML file, .env files and GAZETRACE_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vincentbai/gazetrace-agent/internal/tracker"
)

const envPrefix = "GAZETRACE"

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Session     SessionConfig     `mapstructure:"session"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type EngineConfig struct {
	Regression           string `mapstructure:"regression"`
	Tracker              string `mapstructure:"tracker"`
	ShowVideo            bool   `mapstructure:"show_video"`
	ShowPredictionPoints bool   `mapstructure:"show_prediction_points"`
}

type CalibrationConfig struct {
	SamplesPerPoint int           `mapstructure:"samples_per_point"`
	SampleDelay     time.Duration `mapstructure:"sample_delay"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

// DefaultDataDirectory is the platform application-data directory.
func DefaultDataDirectory() string {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "GazeTrace")
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "GazeTrace")
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "GazeTrace")
	}
}

func setDefaults(v *viper.Viper) {
	timing := tracker.DefaultCalibrationTiming()

	v.SetDefault("server.address", "127.0.0.1:8123")
	v.SetDefault("database.path", filepath.Join(DefaultDataDirectory(), "gaze.db"))
	v.SetDefault("session.backend", BackendSQLite)
	v.SetDefault("session.ttl", 12*time.Hour)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("engine.regression", tracker.DefaultRegression)
	v.SetDefault("engine.tracker", tracker.DefaultFeatureTracker)
	v.SetDefault("engine.show_video", false)
	v.SetDefault("engine.show_prediction_points", false)
	v.SetDefault("calibration.samples_per_point", timing.SamplesPerPoint)
	v.SetDefault("calibration.sample_delay", timing.SampleDelay)
	v.SetDefault("calibration.settle_delay", timing.SettleDelay)
}

// Load reads configuration. configFile may be empty, in which case
// ./config.yaml is used when present.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	switch c.Session.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required for the redis session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.backend %q", c.Session.Backend))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Calibration.SamplesPerPoint <= 0 {
		errs = append(errs, errors.New("calibration.samples_per_point must be positive"))
	}
	if c.Calibration.SampleDelay < 0 || c.Calibration.SettleDelay < 0 {
		errs = append(errs, errors.New("calibration delays must not be negative"))
	}
	return errors.Join(errs...)
}

// TrackerConfig maps the engine and calibration sections onto tracker.Config.
func (c *Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		Regression:           c.Engine.Regression,
		FeatureTracker:       c.Engine.Tracker,
		ShowVideo:            c.Engine.ShowVideo,
		ShowPredictionPoints: c.Engine.ShowPredictionPoints,
		Calibration: tracker.CalibrationTiming{
			SamplesPerPoint: c.Calibration.SamplesPerPoint,
			SampleDelay:     c.Calibration.SampleDelay,
			SettleDelay:     c.Calibration.SettleDelay,
		},
	}
}
