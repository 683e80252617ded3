package models

import (
	"errors"
	"time"
)

// MarketMode selects which directional legacy presets are live.
type MarketMode string

const (
	MarketModeBull MarketMode = "bull"
	MarketModeBear MarketMode = "bear"
)

// Comparison operators for simple threshold conditions.
const (
	CompareGreaterThan = "greater_than"
	CompareLessThan    = "less_than"
	CompareEquals      = "equals"
)

// Severity levels, ordered by urgency.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Simple threshold condition types: a single scalar derived from the
// current snapshot and its history, compared against Threshold.
const (
	TypePricePump      = "price_pump"
	TypePriceDump      = "price_dump"
	TypeVolumeSpike    = "volume_spike"
	TypeVolumeDrop     = "volume_drop"
	TypeVCPSignal      = "vcp_signal"
	TypeFibonacciBreak = "fibonacci_break"
	TypeTrendReversal  = "trend_reversal"
)

// Legacy composite preset types. Their semantics are hard-coded in the
// evaluator; Threshold and Comparison are ignored for these.
const (
	TypePioneerBull  = "pioneer_bull"
	TypePioneerBear  = "pioneer_bear"
	Type5mBigBull    = "5m_big_bull"
	Type5mBigBear    = "5m_big_bear"
	Type15mBigBull   = "15m_big_bull"
	Type15mBigBear   = "15m_big_bear"
	TypeBottomHunter = "bottom_hunter"
	TypeTopHunter    = "top_hunter"
)

// Condition is one clause of a rule. Timeframe selects the history offset
// for simple types ("1m", "3m", "5m", "15m"); empty means "5m".
type Condition struct {
	Type       string  `json:"type"`
	Threshold  float64 `json:"threshold"`
	Comparison string  `json:"comparison"`
	Timeframe  string  `json:"timeframe,omitempty"`
}

// Rule is an ordered, AND-combined set of conditions applied to a symbol
// universe (empty Symbols means all symbols).
type Rule struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Enabled             bool        `json:"enabled"`
	Conditions          []Condition `json:"conditions"`
	Symbols             []string    `json:"symbols"`
	Severity            string      `json:"severity"`
	NotificationEnabled bool        `json:"notification_enabled"`
	SoundEnabled        bool        `json:"sound_enabled"`
	CreatedAt           time.Time   `json:"created_at"`
	LastTriggered       *time.Time  `json:"last_triggered,omitempty"`
}

// Validate checks rule field constraints.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rule ID must not be empty")
	}
	if r.Name == "" {
		return errors.New("rule name must not be empty")
	}
	if len(r.Conditions) == 0 {
		return errors.New("rule must have at least one condition")
	}
	for _, c := range r.Conditions {
		if c.Type == "" {
			return errors.New("condition type must not be empty")
		}
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, "":
	default:
		return errors.New("severity must be one of: low, medium, high, critical")
	}
	return nil
}

// AppliesTo reports whether the rule's symbol universe includes symbol.
func (r *Rule) AppliesTo(symbol string) bool {
	if len(r.Symbols) == 0 {
		return true
	}
	for _, s := range r.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
