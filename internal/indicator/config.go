package indicator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// IndicatorConfig specifies a single smoother to run per instrument.
type IndicatorConfig struct {
	Type   string `yaml:"type" json:"type"` // "SMA", "EMA", "SMMA"
	Period int    `yaml:"period" json:"period"`
}

// Name returns "TYPE_PERIOD", the name used on published results.
func (c IndicatorConfig) Name() string {
	return c.Type + "_" + strconv.Itoa(c.Period)
}

// DefaultConfigs is used when no smoother set is configured.
func DefaultConfigs() []IndicatorConfig {
	return []IndicatorConfig{
		{Type: "SMA", Period: 20},
		{Type: "EMA", Period: 9},
		{Type: "EMA", Period: 21},
	}
}

// NewSmoother builds a smoother for cfg.
func NewSmoother(cfg IndicatorConfig) (Smoother, error) {
	switch cfg.Type {
	case "SMA":
		return NewSMA(cfg.Period)
	case "EMA":
		return NewEMA(cfg.Period)
	case "SMMA":
		return NewSMMA(cfg.Period)
	default:
		return nil, fmt.Errorf("unknown indicator type %q", cfg.Type)
	}
}

// ParseSpecs parses "TYPE:PERIOD,TYPE:PERIOD,..." into []IndicatorConfig.
// Example: "SMA:20,EMA:9,EMA:21". Invalid entries are skipped; returns
// defaults if nothing valid was parsed.
func ParseSpecs(s string) []IndicatorConfig {
	if strings.TrimSpace(s) == "" {
		return DefaultConfigs()
	}

	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			slog.Warn("skipping invalid indicator spec", slog.String("spec", part))
			continue
		}
		configs = append(configs, IndicatorConfig{Type: typ, Period: period})
	}
	if len(configs) == 0 {
		slog.Warn("no valid indicator specs parsed, using defaults", slog.String("input", s))
		return DefaultConfigs()
	}
	return configs
}

// ValidateConfigs checks a smoother set for errors.
func ValidateConfigs(configs []IndicatorConfig) error {
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		switch cfg.Type {
		case "SMA", "EMA", "SMMA":
			// valid
		default:
			return fmt.Errorf("unknown indicator type %q", cfg.Type)
		}
		if cfg.Period <= 0 {
			return fmt.Errorf("invalid period=%d for %s: %w", cfg.Period, cfg.Type, ErrInvalidPeriod)
		}
		if seen[cfg.Name()] {
			return fmt.Errorf("duplicate indicator %s", cfg.Name())
		}
		seen[cfg.Name()] = true
	}
	return nil
}
