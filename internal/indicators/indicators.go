// Package indicators derives per-tick technical values from a symbol
// snapshot: volatility-contraction score, Fibonacci pivot levels, and
// price/volume/dominance ratios.
package indicators

import "github.com/dkrylov/coinsentry/internal/models"

// MarketContext carries the cross-asset inputs for dominance ratios.
type MarketContext struct {
	// BTCPrice is the reference asset's last price; 0 when unknown.
	BTCPrice float64
	// TotalQuoteVolume is the sum of quote volume across all tracked
	// symbols this tick; 0 when unknown.
	TotalQuoteVolume float64
}

// VCP computes the volatility-contraction score:
//
//	(price/weightedAvg) * [((close-low) - (high-close)) / (high-low)]
//
// It is 0 when the 24h range or the weighted average is 0.
func VCP(snap *models.Snapshot) float64 {
	priceRange := snap.HighPrice - snap.LowPrice
	if priceRange == 0 || snap.WeightedAvgPrice == 0 {
		return 0
	}
	balance := ((snap.LastPrice - snap.LowPrice) - (snap.HighPrice - snap.LastPrice)) / priceRange
	return snap.LastPrice / snap.WeightedAvgPrice * balance
}

// FibonacciPivots derives pivot levels from the 24h high/low/close.
func FibonacciPivots(snap *models.Snapshot) models.PivotLevels {
	high, low, last := snap.HighPrice, snap.LowPrice, snap.LastPrice
	pivot := (high + low + last) / 3
	span := high - low
	return models.PivotLevels{
		Pivot: pivot,
		R1:    pivot + 0.382*span,
		R2:    pivot + 0.618*span,
		R3:    pivot + span,
		S1:    pivot - 0.382*span,
		S2:    pivot - 0.618*span,
		S3:    pivot - span,
	}
}

// Compute fills the full indicator bundle for one snapshot.
func Compute(snap *models.Snapshot, mkt MarketContext) models.Indicators {
	ind := models.Indicators{
		VCP:    VCP(snap),
		Pivots: FibonacciPivots(snap),
	}
	if snap.WeightedAvgPrice != 0 {
		ind.PriceToWA = snap.LastPrice / snap.WeightedAvgPrice
	}
	if snap.BaseVolume != 0 {
		ind.VolumeRatio = snap.QuoteVolume / snap.BaseVolume
	}
	if mkt.BTCPrice != 0 {
		ind.BTCRatio = snap.LastPrice / mkt.BTCPrice
	}
	if mkt.TotalQuoteVolume != 0 {
		ind.VolumeDominance = snap.QuoteVolume / mkt.TotalQuoteVolume
	}
	return ind
}
