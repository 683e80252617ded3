// Package models defines the core domain entities: symbol snapshots, alert
// rules, alerts, volume-anomaly bubbles, and delivery summaries.
package models

import (
	"errors"
	"time"
)

// Snapshot represents the current observed state of one trading pair as
// delivered by the market-data feed, plus derived indicators and rolling
// history attached by the engine.
type Snapshot struct {
	Symbol           string    `json:"symbol"`
	LastPrice        float64   `json:"last_price"`
	OpenPrice        float64   `json:"open_price"`
	HighPrice        float64   `json:"high_price"`
	LowPrice         float64   `json:"low_price"`
	PrevClosePrice   float64   `json:"prev_close_price"`
	WeightedAvgPrice float64   `json:"weighted_avg_price"`
	BaseVolume       float64   `json:"base_volume"`
	QuoteVolume      float64   `json:"quote_volume"`
	BidPrice         float64   `json:"bid_price"`
	BidQty           float64   `json:"bid_qty"`
	AskPrice         float64   `json:"ask_price"`
	AskQty           float64   `json:"ask_qty"`
	TradeCount       int64     `json:"trade_count"`
	Timestamp        time.Time `json:"timestamp"`

	Indicators Indicators `json:"indicators"`

	// History maps a fixed look-back offset to the recorded sample closest
	// to (but not younger than) that offset. Populated by the snapshot
	// tracker; entries are monotonically time-ordered.
	History map[time.Duration]HistoryEntry `json:"-"`
}

// Validate checks snapshot field constraints.
func (s *Snapshot) Validate() error {
	if s.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if s.LastPrice < 0 {
		return errors.New("last price must not be negative")
	}
	if s.HighPrice < s.LowPrice {
		return errors.New("high price must be >= low price")
	}
	if s.BaseVolume < 0 || s.QuoteVolume < 0 {
		return errors.New("volume must not be negative")
	}
	if s.TradeCount < 0 {
		return errors.New("trade count must not be negative")
	}
	if s.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}

// HistoryEntry is one rolling-history sample of a symbol at a fixed
// look-back offset.
type HistoryEntry struct {
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	WeightedAvg float64   `json:"weighted_avg"`
	PriceToWA   float64   `json:"price_to_wa"`
	VCP         float64   `json:"vcp"`
	Timestamp   time.Time `json:"timestamp"`
}

// Indicators is the per-tick derived-value bundle consumed by both the rule
// engine and the UI layer.
type Indicators struct {
	VCP             float64     `json:"vcp"`
	Pivots          PivotLevels `json:"pivots"`
	PriceToWA       float64     `json:"price_to_wa"`
	VolumeRatio     float64     `json:"volume_ratio"`
	BTCRatio        float64     `json:"btc_ratio"`
	VolumeDominance float64     `json:"volume_dominance"`
}

// PivotLevels holds Fibonacci pivot levels derived from the 24h range.
type PivotLevels struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	R2    float64 `json:"r2"`
	R3    float64 `json:"r3"`
	S1    float64 `json:"s1"`
	S2    float64 `json:"s2"`
	S3    float64 `json:"s3"`
}

// WindowMetrics aggregates one closed time window for a symbol: the price
// at the window boundaries and the quote volume traded inside it.
type WindowMetrics struct {
	StartPrice  float64   `json:"start_price"`
	EndPrice    float64   `json:"end_price"`
	QuoteVolume float64   `json:"quote_volume"`
	StartTime   time.Time `json:"start_time"`
}

// PriceChangePct returns the percent move across the window, 0 when the
// start price is 0.
func (w WindowMetrics) PriceChangePct() float64 {
	if w.StartPrice == 0 {
		return 0
	}
	return (w.EndPrice - w.StartPrice) / w.StartPrice * 100
}
