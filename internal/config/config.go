// Package config loads weathercore configuration from defaults, an optional
// YAML file and WEATHERCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// WEATHERCORE_OPENWEATHERMAP_API_KEY.
const EnvPrefix = "WEATHERCORE"

// Location sources.
const (
	LocationSourceIPAPI = "ipapi"
	LocationSourceFixed = "fixed"
	LocationSourceNone  = "none"
)

var validate = validator.New()

// Config is the complete weathercore configuration.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	OpenWeatherMap OpenWeatherMapConfig `mapstructure:"openweathermap"`
	Location       LocationConfig       `mapstructure:"location"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Refresh        RefreshConfig        `mapstructure:"refresh"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	API            APIConfig            `mapstructure:"api"`
}

type AppConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Env      string `mapstructure:"env" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error disabled"`
}

type OpenWeatherMapConfig struct {
	APIKey       string        `mapstructure:"api_key" validate:"required"`
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	CurrentPath  string        `mapstructure:"current_path" validate:"required,startswith=/"`
	ForecastPath string        `mapstructure:"forecast_path" validate:"required,startswith=/"`
	Units        string        `mapstructure:"units" validate:"oneof=standard metric imperial"`
	Lang         string        `mapstructure:"lang"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// GeoBaseURL serves reverse geocoding for place names; empty turns them
	// off. PlaceLang picks a localized name (ISO 639-1, e.g. "ko") when the
	// provider has one.
	GeoBaseURL string `mapstructure:"geo_base_url" validate:"omitempty,url"`
	PlaceLang  string `mapstructure:"place_lang"`
}

type LocationConfig struct {
	Source  string        `mapstructure:"source" validate:"oneof=ipapi fixed none"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// IPAPIURL is the lookup endpoint for the ipapi source.
	IPAPIURL string `mapstructure:"ipapi_url" validate:"required_if=Source ipapi,omitempty,url"`

	// Lat and Lon are used by the fixed source.
	Lat float64 `mapstructure:"lat" validate:"latitude"`
	Lon float64 `mapstructure:"lon" validate:"longitude"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl" validate:"gt=0"`
	ForecastTTL    time.Duration `mapstructure:"forecast_ttl" validate:"gt=0"`
	Capacity       int           `mapstructure:"capacity" validate:"gt=0"`
	GridResolution float64       `mapstructure:"grid_resolution" validate:"gt=0,lte=1"`
}

type RefreshConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts uint64        `mapstructure:"max_attempts" validate:"gte=1,lte=10"`

	// PubSubProject and PubSubSubscription enable the remote refresh trigger.
	PubSubProject      string `mapstructure:"pubsub_project"`
	PubSubSubscription string `mapstructure:"pubsub_subscription" validate:"required_with=PubSubProject"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"required_if=Enabled true"`
	Secure       bool    `mapstructure:"secure"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type APIConfig struct {
	RateLimit       int           `mapstructure:"rate_limit" validate:"gt=0"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" validate:"gt=0"`

	// RequestTimeout bounds one weather request end to end.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// Load reads configuration. path names a YAML file; when empty, config.yaml is
// looked up in the working directory and ./config, and a missing file is not an
// error. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in defaults. The result has no API key and does
// not pass Validate until one is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// A default that does not decode into Config is a programming error.
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return &cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the root logger for w.
func (c AppConfig) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", c.Name).
		Str("env", c.Env).
		Logger()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "weathercore")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("openweathermap.api_key", "")
	v.SetDefault("openweathermap.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("openweathermap.current_path", "/weather")
	v.SetDefault("openweathermap.forecast_path", "/forecast")
	v.SetDefault("openweathermap.units", "metric")
	v.SetDefault("openweathermap.lang", "")
	v.SetDefault("openweathermap.timeout", "10s")
	v.SetDefault("openweathermap.geo_base_url", "https://api.openweathermap.org/geo/1.0")
	v.SetDefault("openweathermap.place_lang", "")

	v.SetDefault("location.source", LocationSourceIPAPI)
	v.SetDefault("location.timeout", "10s")
	v.SetDefault("location.ipapi_url", "http://ip-api.com/json/?fields=status,message,lat,lon")
	v.SetDefault("location.lat", 0.0)
	v.SetDefault("location.lon", 0.0)

	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.forecast_ttl", "30m")
	v.SetDefault("cache.capacity", 128)
	v.SetDefault("cache.grid_resolution", 0.01)

	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.schedule", "@hourly")
	v.SetDefault("refresh.timeout", "30s")
	v.SetDefault("refresh.max_attempts", 3)
	v.SetDefault("refresh.pubsub_project", "")
	v.SetDefault("refresh.pubsub_subscription", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.secure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("api.rate_limit", 60)
	v.SetDefault("api.rate_limit_window", "1m")
	v.SetDefault("api.request_timeout", "20s")
}
