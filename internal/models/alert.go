package models

import "time"

// Alert is an immutable record of one fired rule for one symbol. Read and
// Dismissed are the only fields the UI layer mutates, via storage.
type Alert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timeframe string    `json:"timeframe,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Dismissed bool      `json:"dismissed"`
}

// Bubble side constants.
const (
	BubbleSideBuy  = "buy"
	BubbleSideSell = "sell"
)

// Bubble size tiers, classified by the largest z-score threshold cleared.
const (
	BubbleSizeSmall  = "small"
	BubbleSizeMedium = "medium"
	BubbleSizeLarge  = "large"
)

// Bubble is a classified volume-anomaly event for one symbol and timeframe.
// A bubble exists only when both the z-score and minimum price-change
// thresholds were cleared; there is no "empty" bubble.
type Bubble struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Time            time.Time `json:"time"`
	WindowStartTime time.Time `json:"window_start_time"`
	Price           float64   `json:"price"`
	StartPrice      float64   `json:"start_price"`
	EndPrice        float64   `json:"end_price"`
	PriceChangePct  float64   `json:"price_change_pct"`
	Side            string    `json:"side"`
	Size            string    `json:"size"`
	ZScore          float64   `json:"z_score"`
	QuoteVolume     float64   `json:"quote_volume"`
	VolumeEMA       float64   `json:"volume_ema"`
	VolumeStdDev    float64   `json:"volume_std_dev"`
}

// HorizonReadiness counts symbols whose subscription age covers one horizon.
type HorizonReadiness struct {
	Ready int `json:"ready"`
	Total int `json:"total"`
}

// WarmupStatus is a recomputable projection of per-horizon readiness across
// all streaming symbols.
type WarmupStatus struct {
	TotalSymbols    int                         `json:"total_symbols"`
	Timeframes      map[string]HorizonReadiness `json:"timeframes"`
	OverallProgress float64                     `json:"overall_progress"`
}

// SymbolSummary is the per-symbol slice of a delivery summary.
type SymbolSummary struct {
	Symbol      string   `json:"symbol"`
	Count       int      `json:"count"`
	CountLast1h int      `json:"count_last_1h"`
	CountLast24 int      `json:"count_last_24h"`
	RecentTypes []string `json:"recent_types"` // up to 3, most recent first
}

// Summary is the product of one delivery batch flush: everything a
// notification sink needs to render a single rate-limit-friendly message.
type Summary struct {
	Total       int             `json:"total"`
	Symbols     []SymbolSummary `json:"symbols"`
	BySeverity  map[string]int  `json:"by_severity"`
	ByTimeframe map[string]int  `json:"by_timeframe"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
}
