package rules

import (
	"math"
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

// Volume-delta floors for the legacy presets, in quote-asset units. These
// are empirically tuned constants carried over from the original rule set.
// The pioneer bear floor is intentionally looser than the bull floor:
// sell-offs are detected on smaller volume deltas.
const (
	pioneerBullVolumeFloor = 5_000
	pioneerBearVolumeFloor = 1_000

	big5mDelta3mFloor = 100_000
	big5mDelta5mFloor = 50_000

	big15mDelta15mFloor = 400_000
	big15mDelta3mFloor  = 100_000
)

const (
	offset1m  = 1 * time.Minute
	offset3m  = 3 * time.Minute
	offset5m  = 5 * time.Minute
	offset15m = 15 * time.Minute
)

// legacyHandler evaluates one hard-coded composite heuristic. A false
// return covers both "did not match" and "insufficient history"; the two
// must be indistinguishable to callers.
type legacyHandler func(snap *models.Snapshot, mode models.MarketMode) (conditionResult, bool)

// legacyHandlers is the closed tagged-variant dispatch table for the
// built-in composite presets.
var legacyHandlers = map[string]legacyHandler{
	models.TypePioneerBull:  pioneerBull,
	models.TypePioneerBear:  pioneerBear,
	models.Type5mBigBull:    bigBull5m,
	models.Type5mBigBear:    bigBear5m,
	models.Type15mBigBull:   bigBull15m,
	models.Type15mBigBear:   bigBear15m,
	models.TypeBottomHunter: bottomHunter,
	models.TypeTopHunter:    topHunter,
}

// pioneerBull fires when price sits above both the 5m and 15m samples and
// the quote-volume delta versus the 5m sample clears the bull floor. Bull
// mode only.
func pioneerBull(snap *models.Snapshot, mode models.MarketMode) (conditionResult, bool) {
	if mode != models.MarketModeBull {
		return conditionResult{}, false
	}
	h5, ok5 := snap.History[offset5m]
	h15, ok15 := snap.History[offset15m]
	if !ok5 || !ok15 || h5.Price == 0 || h15.Price == 0 {
		return conditionResult{}, false
	}
	volumeDelta := math.Abs(snap.QuoteVolume - h5.Volume)
	if snap.LastPrice/h5.Price > 1 &&
		snap.LastPrice/h15.Price > 1 &&
		volumeDelta > pioneerBullVolumeFloor {
		return conditionResult{
			value:     volumeDelta,
			threshold: pioneerBullVolumeFloor,
			timeframe: "5m",
			severity:  models.SeverityCritical,
		}, true
	}
	return conditionResult{}, false
}

// pioneerBear is the bear-mode mirror with its looser volume floor.
func pioneerBear(snap *models.Snapshot, mode models.MarketMode) (conditionResult, bool) {
	if mode != models.MarketModeBear {
		return conditionResult{}, false
	}
	h5, ok5 := snap.History[offset5m]
	h15, ok15 := snap.History[offset15m]
	if !ok5 || !ok15 || h5.Price == 0 || h15.Price == 0 {
		return conditionResult{}, false
	}
	volumeDelta := math.Abs(snap.QuoteVolume - h5.Volume)
	if snap.LastPrice/h5.Price < 1 &&
		snap.LastPrice/h15.Price < 1 &&
		volumeDelta > pioneerBearVolumeFloor {
		return conditionResult{
			value:     volumeDelta,
			threshold: pioneerBearVolumeFloor,
			timeframe: "5m",
			severity:  models.SeverityCritical,
		}, true
	}
	return conditionResult{}, false
}

// bigChain5m checks the literal 5m-class stair-step: volumes ordered
// vol3m < vol1m < vol5m < current with minimum deltas per hop, and the
// matching strict price ordering across the same snapshots. "Accelerating
// momentum" here means exactly this four-snapshot comparison, not a
// smoothed slope.
func bigChain5m(snap *models.Snapshot, ascending bool) (conditionResult, bool) {
	h1, ok1 := snap.History[offset1m]
	h3, ok3 := snap.History[offset3m]
	h5, ok5 := snap.History[offset5m]
	if !ok1 || !ok3 || !ok5 {
		return conditionResult{}, false
	}
	qv := snap.QuoteVolume
	if !(h3.Volume < h1.Volume && h1.Volume < h5.Volume && h5.Volume < qv) {
		return conditionResult{}, false
	}
	if qv-h3.Volume <= big5mDelta3mFloor || qv-h5.Volume <= big5mDelta5mFloor {
		return conditionResult{}, false
	}
	if !priceChain(h3.Price, h1.Price, h5.Price, snap.LastPrice, ascending) {
		return conditionResult{}, false
	}
	return conditionResult{
		value:     qv - h5.Volume,
		threshold: big5mDelta5mFloor,
		timeframe: "5m",
		severity:  models.SeverityHigh,
	}, true
}

// bigChain15m is the 15m-class analogue with its own floors.
func bigChain15m(snap *models.Snapshot, ascending bool) (conditionResult, bool) {
	h1, ok1 := snap.History[offset1m]
	h3, ok3 := snap.History[offset3m]
	h15, ok15 := snap.History[offset15m]
	if !ok1 || !ok3 || !ok15 {
		return conditionResult{}, false
	}
	qv := snap.QuoteVolume
	if !(h3.Volume < h1.Volume && h1.Volume < h15.Volume && h15.Volume < qv) {
		return conditionResult{}, false
	}
	if qv-h15.Volume <= big15mDelta15mFloor || qv-h3.Volume <= big15mDelta3mFloor {
		return conditionResult{}, false
	}
	if !priceChain(h3.Price, h1.Price, h15.Price, snap.LastPrice, ascending) {
		return conditionResult{}, false
	}
	return conditionResult{
		value:     qv - h15.Volume,
		threshold: big15mDelta15mFloor,
		timeframe: "15m",
		severity:  models.SeverityHigh,
	}, true
}

// priceChain checks strict ordering across the four snapshots in the same
// order the volume chain uses.
func priceChain(p3, p1, pMid, pLast float64, ascending bool) bool {
	if ascending {
		return p3 < p1 && p1 < pMid && pMid < pLast
	}
	return p3 > p1 && p1 > pMid && pMid > pLast
}

func bigBull5m(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	return bigChain5m(snap, true)
}

func bigBear5m(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	return bigChain5m(snap, false)
}

func bigBull15m(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	return bigChain15m(snap, true)
}

func bigBear15m(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	return bigChain15m(snap, false)
}

// bottomHunter detects a decline-then-bounce shape: price fell versus the
// 15m and 3m samples but ticked up versus the 1m sample, with volume
// accelerating (2*qv/vol5m > qv/vol15m).
func bottomHunter(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	h1, h3, h15, ok := hunterHistory(snap)
	if !ok {
		return conditionResult{}, false
	}
	if snap.LastPrice < h15.Price &&
		snap.LastPrice < h3.Price &&
		snap.LastPrice > h1.Price &&
		volumeAccelerating(snap) {
		return hunterResult(snap, h15), true
	}
	return conditionResult{}, false
}

// topHunter is the price-mirrored counterpart: rise then stall.
func topHunter(snap *models.Snapshot, _ models.MarketMode) (conditionResult, bool) {
	h1, h3, h15, ok := hunterHistory(snap)
	if !ok {
		return conditionResult{}, false
	}
	if snap.LastPrice > h15.Price &&
		snap.LastPrice > h3.Price &&
		snap.LastPrice < h1.Price &&
		volumeAccelerating(snap) {
		return hunterResult(snap, h15), true
	}
	return conditionResult{}, false
}

func hunterHistory(snap *models.Snapshot) (h1, h3, h15 models.HistoryEntry, ok bool) {
	var ok1, ok3, ok15 bool
	h1, ok1 = snap.History[offset1m]
	h3, ok3 = snap.History[offset3m]
	h15, ok15 = snap.History[offset15m]
	return h1, h3, h15, ok1 && ok3 && ok15
}

func volumeAccelerating(snap *models.Snapshot) bool {
	h5, ok5 := snap.History[offset5m]
	h15, ok15 := snap.History[offset15m]
	if !ok5 || !ok15 || h5.Volume == 0 || h15.Volume == 0 {
		return false
	}
	return 2*snap.QuoteVolume/h5.Volume > snap.QuoteVolume/h15.Volume
}

func hunterResult(snap *models.Snapshot, h15 models.HistoryEntry) conditionResult {
	value := 0.0
	if h15.Price != 0 {
		value = (snap.LastPrice - h15.Price) / h15.Price * 100
	}
	return conditionResult{
		value:     value,
		timeframe: "15m",
		severity:  models.SeverityMedium,
	}
}
