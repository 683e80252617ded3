package tracker

import (
	"testing"
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

func snapAt(symbol string, price, volume float64, ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		Symbol:           symbol,
		LastPrice:        price,
		QuoteVolume:      volume,
		WeightedAvgPrice: price,
		Timestamp:        ts,
	}
}

func TestGet_NoHistory(t *testing.T) {
	tr := New(nil)
	if _, ok := tr.Get("BTCUSDT", 5*time.Minute); ok {
		t.Error("expected no sample for untracked symbol")
	}
}

func TestGet_InsufficientAge(t *testing.T) {
	tr := New(nil)
	now := time.Now()
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 100, 1000, now))
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 101, 1100, now.Add(2*time.Minute)))

	if _, ok := tr.Get("BTCUSDT", 5*time.Minute); ok {
		t.Error("expected no 5m sample after only 2m of history")
	}
	if e, ok := tr.Get("BTCUSDT", 1*time.Minute); !ok {
		t.Error("expected a 1m sample after 2m of history")
	} else if e.Price != 100 {
		t.Errorf("expected the 2m-old sample (price 100), got price %f", e.Price)
	}
}

// The returned sample's age must be the smallest value >= offset among all
// samples ever recorded, never a sample younger than the offset.
func TestGet_ClosestAgeNotLess(t *testing.T) {
	tr := New(nil)
	start := time.Now()

	// One tick per minute for 16 minutes, price encodes the tick index.
	for i := 0; i <= 16; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		tr.Update("ETHUSDT", snapAt("ETHUSDT", float64(i), float64(i)*10, ts))
	}

	tests := []struct {
		offset    time.Duration
		wantPrice float64
	}{
		{1 * time.Minute, 15},
		{3 * time.Minute, 13},
		{5 * time.Minute, 11},
		{15 * time.Minute, 1},
	}
	for _, tt := range tests {
		e, ok := tr.Get("ETHUSDT", tt.offset)
		if !ok {
			t.Fatalf("offset %v: expected a sample", tt.offset)
		}
		if e.Price != tt.wantPrice {
			t.Errorf("offset %v: got price %f, want %f", tt.offset, e.Price, tt.wantPrice)
		}
	}
}

func TestGet_SparseTicks(t *testing.T) {
	tr := New(nil)
	start := time.Now()
	tr.Update("SOLUSDT", snapAt("SOLUSDT", 10, 100, start))
	tr.Update("SOLUSDT", snapAt("SOLUSDT", 12, 120, start.Add(7*time.Minute)))

	// The only sample with age >= 5m is the 7m-old one.
	e, ok := tr.Get("SOLUSDT", 5*time.Minute)
	if !ok {
		t.Fatal("expected a 5m sample")
	}
	if e.Price != 10 {
		t.Errorf("expected the 7m-old sample (price 10), got price %f", e.Price)
	}
	if _, ok := tr.Get("SOLUSDT", 15*time.Minute); ok {
		t.Error("expected no 15m sample after only 7m of history")
	}
}

func TestUpdate_IgnoresOutOfOrder(t *testing.T) {
	tr := New(nil)
	now := time.Now()
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 100, 1000, now))
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 999, 9999, now.Add(-time.Minute)))
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 101, 1100, now.Add(90*time.Second)))

	e, ok := tr.Get("BTCUSDT", time.Minute)
	if !ok {
		t.Fatal("expected a 1m sample")
	}
	if e.Price == 999 {
		t.Error("out-of-order sample must not be recorded")
	}
}

func TestHistory_OnlyAvailableOffsets(t *testing.T) {
	tr := New(nil)
	start := time.Now()
	for i := 0; i <= 6; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		tr.Update("BTCUSDT", snapAt("BTCUSDT", float64(100+i), 1000, ts))
	}

	h := tr.History("BTCUSDT")
	if _, ok := h[1*time.Minute]; !ok {
		t.Error("expected 1m entry")
	}
	if _, ok := h[5*time.Minute]; !ok {
		t.Error("expected 5m entry")
	}
	if _, ok := h[15*time.Minute]; ok {
		t.Error("expected no 15m entry after 6m of history")
	}
}

func TestClear(t *testing.T) {
	tr := New(nil)
	now := time.Now()
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 100, 1000, now.Add(-time.Hour)))
	tr.Update("BTCUSDT", snapAt("BTCUSDT", 101, 1000, now))
	tr.Clear()
	if _, ok := tr.Get("BTCUSDT", time.Minute); ok {
		t.Error("expected no history after Clear")
	}
}
