package features

import (
	"fmt"
	"slices"
)

// Configuration keys accepted by ConfigFromMap.
const (
	KeyRSIPeriods       = "rsi_periods"
	KeySMAPeriods       = "sma_periods"
	KeyBollingerPeriods = "bollinger_periods"
)

// Config selects the lookback periods computed for each indicator. A nil
// field takes the default list; a non-nil field replaces it whole.
type Config struct {
	RSIPeriods       []int
	SMAPeriods       []int
	BollingerPeriods []int
}

// DefaultConfig returns the built-in indicator periods.
func DefaultConfig() Config {
	return Config{
		RSIPeriods:       []int{14},
		SMAPeriods:       []int{20, 50},
		BollingerPeriods: []int{14},
	}
}

// ConfigFromMap builds a Config from indicator keys to periods. Unknown keys
// are ignored.
func ConfigFromMap(m map[string][]int) Config {
	var cfg Config
	if v, ok := m[KeyRSIPeriods]; ok {
		cfg.RSIPeriods = nonNil(v)
	}
	if v, ok := m[KeySMAPeriods]; ok {
		cfg.SMAPeriods = nonNil(v)
	}
	if v, ok := m[KeyBollingerPeriods]; ok {
		cfg.BollingerPeriods = nonNil(v)
	}
	return cfg
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return slices.Clone(v)
}

// withDefaults returns cfg with every nil field replaced by its default.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.RSIPeriods == nil {
		cfg.RSIPeriods = def.RSIPeriods
	}
	if cfg.SMAPeriods == nil {
		cfg.SMAPeriods = def.SMAPeriods
	}
	if cfg.BollingerPeriods == nil {
		cfg.BollingerPeriods = def.BollingerPeriods
	}
	cfg.RSIPeriods = uniq(cfg.RSIPeriods)
	cfg.SMAPeriods = uniq(cfg.SMAPeriods)
	cfg.BollingerPeriods = uniq(cfg.BollingerPeriods)
	return cfg
}

// uniq drops repeated periods, keeping first occurrences in order.
func uniq(periods []int) []int {
	out := make([]int, 0, len(periods))
	seen := make(map[int]bool, len(periods))
	for _, p := range periods {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that every configured period is positive.
func (cfg Config) Validate() error {
	for name, periods := range map[string][]int{
		KeyRSIPeriods:       cfg.RSIPeriods,
		KeySMAPeriods:       cfg.SMAPeriods,
		KeyBollingerPeriods: cfg.BollingerPeriods,
	} {
		for _, p := range periods {
			if p < 1 {
				return fmt.Errorf("%s: period must be at least 1, got %d", name, p)
			}
		}
	}
	return nil
}

// Columns returns the names of the columns the config adds, in the order
// they are added.
func (cfg Config) Columns() []string {
	cfg = cfg.withDefaults()
	var cols []string
	for _, p := range cfg.RSIPeriods {
		cols = append(cols, fmt.Sprintf("rsi_%d", p))
	}
	for _, p := range cfg.SMAPeriods {
		cols = append(cols, fmt.Sprintf("sma_%d", p))
	}
	for _, p := range cfg.BollingerPeriods {
		cols = append(cols, fmt.Sprintf("bb_upper_%d", p), fmt.Sprintf("bb_lower_%d", p))
	}
	return cols
}
