package indicators

import (
	"math"
	"testing"

	"github.com/dkrylov/coinsentry/internal/models"
)

func TestVCP_ZeroRange(t *testing.T) {
	snap := &models.Snapshot{
		LastPrice:        100,
		HighPrice:        100,
		LowPrice:         100,
		WeightedAvgPrice: 100,
	}
	if got := VCP(snap); got != 0 {
		t.Errorf("VCP with high == low must be 0, got %f", got)
	}
}

func TestVCP_ZeroWeightedAvg(t *testing.T) {
	snap := &models.Snapshot{
		LastPrice: 100,
		HighPrice: 110,
		LowPrice:  90,
	}
	if got := VCP(snap); got != 0 {
		t.Errorf("VCP with zero weighted avg must be 0, got %f", got)
	}
}

func TestVCP_KnownValue(t *testing.T) {
	// balance = ((105-90) - (110-105)) / 20 = 0.5; VCP = 105/100 * 0.5
	snap := &models.Snapshot{
		LastPrice:        105,
		HighPrice:        110,
		LowPrice:         90,
		WeightedAvgPrice: 100,
	}
	want := 0.525
	if got := VCP(snap); math.Abs(got-want) > 1e-12 {
		t.Errorf("VCP = %f, want %f", got, want)
	}
}

func TestFibonacciPivots(t *testing.T) {
	snap := &models.Snapshot{
		LastPrice: 100,
		HighPrice: 110,
		LowPrice:  90,
	}
	p := FibonacciPivots(snap)
	if p.Pivot != 100 {
		t.Errorf("pivot = %f, want 100", p.Pivot)
	}
	if math.Abs(p.R1-107.64) > 1e-9 {
		t.Errorf("R1 = %f, want 107.64", p.R1)
	}
	if math.Abs(p.R2-112.36) > 1e-9 {
		t.Errorf("R2 = %f, want 112.36", p.R2)
	}
	if p.R3 != 120 {
		t.Errorf("R3 = %f, want 120", p.R3)
	}
	if math.Abs(p.S1-92.36) > 1e-9 {
		t.Errorf("S1 = %f, want 92.36", p.S1)
	}
	if p.S3 != 80 {
		t.Errorf("S3 = %f, want 80", p.S3)
	}
}

func TestCompute_Ratios(t *testing.T) {
	snap := &models.Snapshot{
		Symbol:           "ETHUSDT",
		LastPrice:        2000,
		HighPrice:        2100,
		LowPrice:         1900,
		WeightedAvgPrice: 1950,
		BaseVolume:       500,
		QuoteVolume:      1_000_000,
	}
	ind := Compute(snap, MarketContext{BTCPrice: 40_000, TotalQuoteVolume: 10_000_000})

	if math.Abs(ind.PriceToWA-2000.0/1950.0) > 1e-12 {
		t.Errorf("PriceToWA = %f", ind.PriceToWA)
	}
	if ind.VolumeRatio != 2000 {
		t.Errorf("VolumeRatio = %f, want 2000", ind.VolumeRatio)
	}
	if ind.BTCRatio != 0.05 {
		t.Errorf("BTCRatio = %f, want 0.05", ind.BTCRatio)
	}
	if ind.VolumeDominance != 0.1 {
		t.Errorf("VolumeDominance = %f, want 0.1", ind.VolumeDominance)
	}
}

func TestCompute_ZeroGuards(t *testing.T) {
	snap := &models.Snapshot{Symbol: "NEWUSDT"}
	ind := Compute(snap, MarketContext{})
	if ind.VCP != 0 || ind.PriceToWA != 0 || ind.VolumeRatio != 0 || ind.BTCRatio != 0 || ind.VolumeDominance != 0 {
		t.Errorf("zero inputs must yield zero indicators, got %+v", ind)
	}
}
