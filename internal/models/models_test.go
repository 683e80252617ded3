package models

import (
	"testing"
	"time"
)

func validSnapshot() *Snapshot {
	return &Snapshot{
		Symbol:      "BTCUSDT",
		LastPrice:   50_000,
		HighPrice:   51_000,
		LowPrice:    49_000,
		BaseVolume:  100,
		QuoteVolume: 5_000_000,
		TradeCount:  1234,
		Timestamp:   time.Now(),
	}
}

func TestSnapshotValidate(t *testing.T) {
	if err := validSnapshot().Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"empty symbol", func(s *Snapshot) { s.Symbol = "" }},
		{"negative price", func(s *Snapshot) { s.LastPrice = -1 }},
		{"inverted range", func(s *Snapshot) { s.HighPrice = 1; s.LowPrice = 2 }},
		{"negative volume", func(s *Snapshot) { s.QuoteVolume = -1 }},
		{"zero timestamp", func(s *Snapshot) { s.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSnapshot()
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRuleValidate(t *testing.T) {
	r := &Rule{
		ID:         "r1",
		Name:       "test",
		Conditions: []Condition{{Type: TypePricePump}},
		Severity:   SeverityHigh,
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	r.Severity = "urgent"
	if err := r.Validate(); err == nil {
		t.Error("expected error for unknown severity")
	}
	r.Severity = ""
	if err := r.Validate(); err != nil {
		t.Errorf("empty severity must be allowed: %v", err)
	}
	r.Conditions = nil
	if err := r.Validate(); err == nil {
		t.Error("expected error for rule without conditions")
	}
}

func TestRuleAppliesTo(t *testing.T) {
	r := &Rule{Symbols: []string{"BTCUSDT", "ETHUSDT"}}
	if !r.AppliesTo("ETHUSDT") {
		t.Error("listed symbol must apply")
	}
	if r.AppliesTo("XRPUSDT") {
		t.Error("unlisted symbol must not apply")
	}
	r.Symbols = nil
	if !r.AppliesTo("XRPUSDT") {
		t.Error("empty universe must apply to every symbol")
	}
}

func TestWindowMetricsPriceChangePct(t *testing.T) {
	w := WindowMetrics{StartPrice: 100, EndPrice: 110}
	if got := w.PriceChangePct(); got != 10 {
		t.Errorf("change = %f, want 10", got)
	}
	w = WindowMetrics{StartPrice: 0, EndPrice: 110}
	if got := w.PriceChangePct(); got != 0 {
		t.Errorf("zero start price must yield 0, got %f", got)
	}
}
