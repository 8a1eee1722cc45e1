package optimizer

import (
	"time"

	"github.com/c360/sessioncore/config"
)

// Strategy selects the freshness/latency tradeoff for a response.
type Strategy string

const (
	// StrategySpeedFirst serves cached responses aggressively, including
	// entries nearing expiry, and refreshes them in the background.
	StrategySpeedFirst Strategy = "speed_first"
	// StrategyBalanced serves cached responses until their TTL lapses.
	StrategyBalanced Strategy = "balanced"
	// StrategyQualityFirst keeps a short TTL so responses are
	// regenerated frequently.
	StrategyQualityFirst Strategy = "quality_first"
)

// String returns the strategy name.
func (s Strategy) String() string { return string(s) }

// IsValid reports whether s is a defined strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategySpeedFirst, StrategyBalanced, StrategyQualityFirst:
		return true
	default:
		return false
	}
}

// TTL returns the cache lifetime for this strategy.
func (s Strategy) TTL(cfg config.OptimizerConfig) time.Duration {
	switch s {
	case StrategySpeedFirst:
		return cfg.SpeedFirstTTL
	case StrategyQualityFirst:
		return cfg.QualityFirstTTL
	default:
		return cfg.BalancedTTL
	}
}
