// Package config loads trendwatch settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrMissingTMDBKey is returned by RequireTMDB when no API key is configured.
var ErrMissingTMDBKey = errors.New("TMDB API key is not configured (set TMDB_API_KEY)")

// Config is the complete configuration.
type Config struct {
	Port      int             `mapstructure:"port" validate:"min=1,max=65535"`
	DBPath    string          `mapstructure:"db_path" validate:"required"`
	Log       LogConfig       `mapstructure:"log"`
	TMDB      TMDBConfig      `mapstructure:"tmdb"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Collector CollectorConfig `mapstructure:"collector"`
	Trends    TrendsConfig    `mapstructure:"trends"`
	Companies CompaniesConfig `mapstructure:"companies"`
	Lock      LockConfig      `mapstructure:"lock"`
	Health    HealthConfig    `mapstructure:"health"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type TMDBConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestInterval time.Duration `mapstructure:"request_interval" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" validate:"min=1"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"min=0,max=10"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type CollectorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Plan       string        `mapstructure:"plan" validate:"oneof=trending daily mass studios"`
	Interval   time.Duration `mapstructure:"interval" validate:"gte=0"`
	DailyAt    string        `mapstructure:"daily_at" validate:"omitempty,clock"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

type TrendsConfig struct {
	Days             int     `mapstructure:"days" validate:"min=1,max=365"`
	MinChangePercent float64 `mapstructure:"min_change_percent" validate:"gte=0"`
}

type CompaniesConfig struct {
	MinItems int `mapstructure:"min_items" validate:"min=1"`
	Limit    int `mapstructure:"limit" validate:"min=1,max=1000"`
}

type LockConfig struct {
	Dir        string        `mapstructure:"dir"`
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gt=0"`
}

type HealthConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gte=0"`
}

// Load reads configuration from cfgFile, or trendwatch.yaml in the working
// directory or $HOME/.config/trendwatch if cfgFile is empty, then the
// environment. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("trendwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/trendwatch")
	}

	v.SetEnvPrefix("TRENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare names used by existing deployments.
	for key, env := range map[string]string{
		"tmdb.api_key":   "TMDB_API_KEY",
		"openai.api_key": "OPENAI_API_KEY",
		"port":           "PORT",
		"db_path":        "DB_PATH",
	} {
		prefixed := "TRENDWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "movie_trends.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.timeout", 30*time.Second)
	v.SetDefault("tmdb.request_interval", 250*time.Millisecond)
	v.SetDefault("tmdb.burst", 4)
	v.SetDefault("tmdb.max_retries", 3)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("collector.enabled", true)
	v.SetDefault("collector.plan", "daily")
	v.SetDefault("collector.interval", 4*time.Hour)
	v.SetDefault("collector.daily_at", "09:00")
	v.SetDefault("collector.run_on_start", false)

	v.SetDefault("trends.days", 7)
	v.SetDefault("trends.min_change_percent", 15.0)

	v.SetDefault("companies.min_items", 3)
	v.SetDefault("companies.limit", 100)

	v.SetDefault("lock.dir", "")
	v.SetDefault("lock.stale_after", 2*time.Hour)

	v.SetDefault("health.stale_after", 26*time.Hour)
}

var clockRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockRegex.MatchString(fl.Field().String())
	})
	return v
}()

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RequireTMDB returns ErrMissingTMDBKey if the collector cannot run.
func (c *Config) RequireTMDB() error {
	if strings.TrimSpace(c.TMDB.APIKey) == "" {
		return ErrMissingTMDBKey
	}
	return nil
}

// DailyClock returns the daily run time as hour and minute. ok is false when
// no daily run is configured.
func (c CollectorConfig) DailyClock() (hour, minute int, ok bool) {
	if c.DailyAt == "" {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", c.DailyAt)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
