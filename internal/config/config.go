// Package config loads trend engine settings from an optional YAML file,
// fills struct defaults, applies environment overrides and validates the
// result.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/barisx/Indicators/internal/indicator"
	"github.com/barisx/Indicators/internal/trend"
)

// Config holds all configuration for the trend engine service.
type Config struct {
	Service  string `yaml:"service" default:"trendengine" validate:"required"`
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`

	Redis RedisConfig `yaml:"redis"`
	HTTP  HTTPConfig  `yaml:"http"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Notify     NotifyConfig     `yaml:"notify"`

	// Indicators is the smoother set run over every instrument's price.
	Indicators []indicator.IndicatorConfig `yaml:"indicators"`

	// Instruments lists "EXCHANGE:TOKEN" keys to consume. Empty means
	// discover frame streams in Redis.
	Instruments []string `yaml:"instruments" validate:"dive,contains=:"`

	// KDiffCap bounds each classifier's size-difference history.
	// 0 keeps the full history.
	KDiffCap int `yaml:"kdiff_cap" default:"0" validate:"gte=0"`

	// InstrumentIdle drops an instrument's classifier and smoother state
	// after this long without a frame. 0 keeps state for the process
	// lifetime.
	InstrumentIdle time.Duration `yaml:"instrument_idle" default:"0s"`

	// FanoutBuffer is the per-subscriber channel size of the result bus.
	FanoutBuffer int `yaml:"fanout_buffer" default:"1000" validate:"gte=1"`
}

// RedisConfig configures the frame consumer and result publisher.
type RedisConfig struct {
	Addr          string `yaml:"addr" default:"localhost:6379" validate:"required"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db" default:"0" validate:"gte=0"`
	ConsumerGroup string `yaml:"consumer_group" default:"trendengine" validate:"required"`
	ConsumerName  string `yaml:"consumer_name" default:"worker-1" validate:"required"`
	// StartID is where a newly created consumer group starts reading.
	// "0" replays the whole stream so the classifier rebuilds its state.
	StartID string `yaml:"start_id" default:"0" validate:"required"`

	BatchSize        int64         `yaml:"batch_size" default:"100" validate:"gte=1"`
	Block            time.Duration `yaml:"block" default:"2s"`
	PELInterval      time.Duration `yaml:"pel_interval" default:"30s"`
	PELMinIdle       time.Duration `yaml:"pel_min_idle" default:"60s"`
	DiscoverInterval time.Duration `yaml:"discover_interval" default:"10s"`
	StreamMaxLen     int64         `yaml:"stream_max_len" default:"10000" validate:"gte=1"`
	PublishIndicator bool          `yaml:"publish_indicators" default:"true"`
}

// HTTPConfig configures the metrics, health, state and WebSocket listener.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" default:":9096" validate:"required"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	ClientBuffer   int           `yaml:"client_buffer" default:"256" validate:"gte=1"`
	LivenessPeriod time.Duration `yaml:"liveness_period" default:"10s"`
}

// NotifyConfig configures trend transition alerts. No channel set means
// no alerts.
type NotifyConfig struct {
	Log            bool          `yaml:"log"`
	WebhookURL     string        `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID string        `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
}

// Enabled reports whether any alert channel is configured.
func (n NotifyConfig) Enabled() bool {
	return n.Log || n.WebhookURL != "" || n.TelegramToken != ""
}

// ClassifierConfig holds the thresholds and projection levels.
// Levels are decimals so they round-trip exactly through YAML.
type ClassifierConfig struct {
	MinTrendLength       int             `yaml:"min_trend_length" default:"5" validate:"gte=0"`
	MinReplacementLength int             `yaml:"min_replacement_length" default:"1" validate:"gte=0"`
	HighLevel            decimal.Decimal `yaml:"high_level"`
	LowLevel             decimal.Decimal `yaml:"low_level"`
}

// SetDefaults fills fields the default tags cannot express.
// Called by defaults.Set.
func (c *ClassifierConfig) SetDefaults() {
	d := trend.DefaultConfig()
	if c.HighLevel.Equal(decimal.Zero) {
		c.HighLevel = decimal.NewFromFloat(d.HighLevel)
	}
	if c.LowLevel.Equal(decimal.Zero) {
		c.LowLevel = decimal.NewFromFloat(d.LowLevel)
	}
}

// TrendConfig converts to the classifier's configuration.
func (c ClassifierConfig) TrendConfig() trend.Config {
	return trend.Config{
		MinTrendLength:       c.MinTrendLength,
		MinReplacementLength: c.MinReplacementLength,
		HighLevel:            c.HighLevel.InexactFloat64(),
		LowLevel:             c.LowLevel.InexactFloat64(),
	}
}

var validate = validator.New()

// Load builds a Config: defaults, then the YAML file at path (skipped when
// path is empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if len(c.Indicators) == 0 {
		c.Indicators = indicator.DefaultConfigs()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks struct constraints and the smoother set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s%s", fe.Namespace(), fe.Tag(), param(fe)))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if err := indicator.ValidateConfigs(c.Indicators); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	return nil
}

func param(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return "=" + fe.Param()
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.ConsumerGroup = getEnv("CONSUMER_GROUP", c.Redis.ConsumerGroup)
	c.Redis.ConsumerName = getEnv("CONSUMER_NAME", c.Redis.ConsumerName)
	c.HTTP.Addr = getEnv("TRENDENGINE_HTTP_ADDR", c.HTTP.Addr)
	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)

	if v := os.Getenv("INDICATOR_CONFIGS"); v != "" {
		c.Indicators = indicator.ParseSpecs(v)
	}
	if v := os.Getenv("INSTRUMENTS"); v != "" {
		c.Instruments = parseKeys(v)
	}
	if v := os.Getenv("KDIFF_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KDIFF_CAP: %w", err)
		}
		c.KDiffCap = n
	}
	if v := os.Getenv("HIGH_LEVEL"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("HIGH_LEVEL: %w", err)
		}
		c.Classifier.HighLevel = d
	}
	if v := os.Getenv("LOW_LEVEL"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("LOW_LEVEL: %w", err)
		}
		c.Classifier.LowLevel = d
	}
	return nil
}

// parseKeys parses "EX:TOKEN,EX:TOKEN" into upper-cased exchange keys.
func parseKeys(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		ex, tok, ok := strings.Cut(part, ":")
		if !ok || ex == "" || tok == "" {
			log.Printf("[config] skipping invalid instrument key: %q", part)
			continue
		}
		keys = append(keys, strings.ToUpper(ex)+":"+tok)
	}
	return keys
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
