// The application's root configuration.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Warmup   WarmupConfig   `mapstructure:"warmup"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ProfilesConfig holds settings for profile record storage.
type ProfilesConfig struct {
	// Dir is the root directory holding profile_<id> subdirectories.
	Dir string `mapstructure:"dir"`
}

// LLMConfig holds the connection settings for the local assessor
// endpoint (an OpenAI-compatible chat completions server).
type LLMConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GeocodeConfig holds settings for the reverse-geocoding client.
type GeocodeConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// RatePerSecond bounds outbound lookups; public nominatim asks for
	// at most one request per second.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	CacheSize     int     `mapstructure:"cache_size"`
}

// EngineConfig holds settings for the bulk audit worker pool.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
}

// WarmupConfig holds settings for the warm-up planner.
type WarmupConfig struct {
	DBPath               string `mapstructure:"db_path"`
	TotalDurationMinutes int    `mapstructure:"total_duration_minutes"`
	SessionMinMinutes    int    `mapstructure:"session_min_minutes"`
	SessionMaxMinutes    int    `mapstructure:"session_max_minutes"`
	Timezone             string `mapstructure:"timezone"`
}

// SetDefaults registers defaults so the app can run with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "fpwarden")

	v.SetDefault("profiles.dir", "profiles")

	v.SetDefault("llm.endpoint", "http://127.0.0.1:1234/v1/chat/completions")
	v.SetDefault("llm.model", "openai/gpt-oss-20b")
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "fpwarden/1.0 (contact@example.com)")
	v.SetDefault("geocode.timeout", 5*time.Second)
	v.SetDefault("geocode.rate_per_second", 1.0)
	v.SetDefault("geocode.cache_size", 256)

	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.task_timeout", 2*time.Minute)

	v.SetDefault("warmup.db_path", "warmup/warmup_data.db")
	v.SetDefault("warmup.total_duration_minutes", 240)
	v.SetDefault("warmup.session_min_minutes", 20)
	v.SetDefault("warmup.session_max_minutes", 50)
	v.SetDefault("warmup.timezone", "Europe/Belgrade")
}

// Validate rejects configurations the subsystems cannot run with.
func (c *Config) Validate() error {
	if c.Profiles.Dir == "" {
		return fmt.Errorf("profiles.dir must not be empty")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must not be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.Engine.WorkerConcurrency < 1 {
		return fmt.Errorf("engine.worker_concurrency must be >= 1")
	}
	if c.Warmup.SessionMinMinutes > c.Warmup.SessionMaxMinutes {
		return fmt.Errorf("warmup session_min_minutes exceeds session_max_minutes")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = err
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
