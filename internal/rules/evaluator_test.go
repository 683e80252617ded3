package rules

import (
	"testing"
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

func newSnap(t *testing.T, symbol string, last, qv float64, hist map[time.Duration]models.HistoryEntry) *models.Snapshot {
	t.Helper()
	return &models.Snapshot{
		Symbol:      symbol,
		LastPrice:   last,
		QuoteVolume: qv,
		History:     hist,
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func singleRule(t *testing.T, condType string) []models.Rule {
	t.Helper()
	return []models.Rule{{
		ID:         "r1",
		Name:       "test rule",
		Enabled:    true,
		Conditions: []models.Condition{{Type: condType}},
	}}
}

func TestPioneerBull_Fires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 101.0, 200_000, map[time.Duration]models.HistoryEntry{
		5 * time.Minute:  {Price: 99.5, Volume: 150_000},
		15 * time.Minute: {Price: 99.0, Volume: 300_000},
	})

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypePioneerBull), models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want critical", a.Severity)
	}
	if a.Value != 50_000 {
		t.Errorf("value = %f, want 50000 (quote volume delta)", a.Value)
	}
	if a.Type != models.TypePioneerBull {
		t.Errorf("type = %q", a.Type)
	}
}

func TestPioneerBull_SuppressedInBearMode(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 101.0, 200_000, map[time.Duration]models.HistoryEntry{
		5 * time.Minute:  {Price: 99.5, Volume: 150_000},
		15 * time.Minute: {Price: 99.0, Volume: 300_000},
	})

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypePioneerBull), models.MarketModeBear)
	if len(alerts) != 0 {
		t.Fatalf("pioneer bull must not fire in bear mode, got %d alerts", len(alerts))
	}
}

func TestPioneerBear_FiresWithSmallDelta(t *testing.T) {
	e := NewEvaluator()
	// Delta of 2000 is below the bull floor but above the bear floor.
	snap := newSnap(t, "ABCUSDT", 98.0, 152_000, map[time.Duration]models.HistoryEntry{
		5 * time.Minute:  {Price: 99.5, Volume: 150_000},
		15 * time.Minute: {Price: 100.0, Volume: 300_000},
	})

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypePioneerBear), models.MarketModeBear)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Value != 2_000 {
		t.Errorf("value = %f, want 2000", alerts[0].Value)
	}
}

func big5mHistory(t *testing.T) map[time.Duration]models.HistoryEntry {
	t.Helper()
	return map[time.Duration]models.HistoryEntry{
		3 * time.Minute: {Price: 100.0, Volume: 100_000},
		1 * time.Minute: {Price: 100.5, Volume: 150_000},
		5 * time.Minute: {Price: 101.0, Volume: 200_000},
	}
}

func TestBigBull5m_Fires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 101.5, 260_000, big5mHistory(t))

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.Type5mBigBull), models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != models.SeverityHigh {
		t.Errorf("severity = %q, want high", a.Severity)
	}
	if a.Value != 60_000 {
		t.Errorf("value = %f, want 60000 (delta vs 5m volume)", a.Value)
	}
}

func TestBigBull5m_BrokenPriceChain(t *testing.T) {
	e := NewEvaluator()
	hist := big5mHistory(t)
	hist[1*time.Minute] = models.HistoryEntry{Price: 99.0, Volume: 150_000}
	snap := newSnap(t, "ABCUSDT", 101.5, 260_000, hist)

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.Type5mBigBull), models.MarketModeBull)
	if len(alerts) != 0 {
		t.Fatalf("broken price ordering must not fire, got %d alerts", len(alerts))
	}
}

func TestBigBull5m_DeltaFloorNotCleared(t *testing.T) {
	e := NewEvaluator()
	// Volume ordering holds but qv-vol5m = 40000 <= 50000.
	snap := newSnap(t, "ABCUSDT", 101.5, 240_000, big5mHistory(t))

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.Type5mBigBull), models.MarketModeBull)
	if len(alerts) != 0 {
		t.Fatalf("delta below floor must not fire, got %d alerts", len(alerts))
	}
}

func TestBigBear15m_Fires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 97.0, 600_000, map[time.Duration]models.HistoryEntry{
		3 * time.Minute:  {Price: 100.0, Volume: 50_000},
		1 * time.Minute:  {Price: 99.0, Volume: 80_000},
		15 * time.Minute: {Price: 98.0, Volume: 150_000},
	})

	// Not mode-gated: bear preset fires even in bull mode.
	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.Type15mBigBear), models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Value != 450_000 {
		t.Errorf("value = %f, want 450000 (delta vs 15m volume)", alerts[0].Value)
	}
	if alerts[0].Timeframe != "15m" {
		t.Errorf("timeframe = %q, want 15m", alerts[0].Timeframe)
	}
}

func TestBottomHunter_Fires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 98.0, 200_000, map[time.Duration]models.HistoryEntry{
		1 * time.Minute:  {Price: 97.5, Volume: 180_000},
		3 * time.Minute:  {Price: 99.0, Volume: 170_000},
		5 * time.Minute:  {Price: 99.2, Volume: 150_000},
		15 * time.Minute: {Price: 100.0, Volume: 100_000},
	})

	// 2*200000/150000 = 2.67 > 200000/100000 = 2, so volume is accelerating.
	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypeBottomHunter), models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != models.SeverityMedium {
		t.Errorf("severity = %q, want medium", a.Severity)
	}
	if a.Value != -2.0 {
		t.Errorf("value = %f, want -2 (pct change vs 15m)", a.Value)
	}
}

func TestBottomHunter_NoBounce(t *testing.T) {
	e := NewEvaluator()
	// Price below the 1m sample as well: still falling, no bounce.
	snap := newSnap(t, "ABCUSDT", 97.0, 200_000, map[time.Duration]models.HistoryEntry{
		1 * time.Minute:  {Price: 97.5, Volume: 180_000},
		3 * time.Minute:  {Price: 99.0, Volume: 170_000},
		5 * time.Minute:  {Price: 99.2, Volume: 150_000},
		15 * time.Minute: {Price: 100.0, Volume: 100_000},
	})

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypeBottomHunter), models.MarketModeBull)
	if len(alerts) != 0 {
		t.Fatalf("no bounce must not fire, got %d alerts", len(alerts))
	}
}

func TestTopHunter_Fires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 102.0, 200_000, map[time.Duration]models.HistoryEntry{
		1 * time.Minute:  {Price: 102.5, Volume: 180_000},
		3 * time.Minute:  {Price: 101.0, Volume: 170_000},
		5 * time.Minute:  {Price: 100.8, Volume: 150_000},
		15 * time.Minute: {Price: 100.0, Volume: 100_000},
	})

	alerts := e.Evaluate([]*models.Snapshot{snap}, singleRule(t, models.TypeTopHunter), models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Value != 2.0 {
		t.Errorf("value = %f, want 2 (pct change vs 15m)", alerts[0].Value)
	}
}

func TestPricePump_ThresholdComparison(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 110.0, 0, map[time.Duration]models.HistoryEntry{
		5 * time.Minute: {Price: 100.0},
	})
	rules := []models.Rule{{
		ID:      "r1",
		Name:    "pump 5pct",
		Enabled: true,
		Conditions: []models.Condition{{
			Type: models.TypePricePump, Threshold: 5, Comparison: models.CompareGreaterThan,
		}},
	}}

	alerts := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Value != 10.0 {
		t.Errorf("value = %f, want 10", alerts[0].Value)
	}

	rules[0].Conditions[0].Threshold = 15
	if got := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull); len(got) != 0 {
		t.Fatalf("threshold above the observed change must not fire, got %d alerts", len(got))
	}
}

func TestUnknownComparisonNeverFires(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 110.0, 0, map[time.Duration]models.HistoryEntry{
		5 * time.Minute: {Price: 100.0},
	})
	// A 10% pump against a 5% threshold would fire under greater_than;
	// a misspelled operator must not fall through to it.
	rules := []models.Rule{{
		ID:      "r1",
		Name:    "typoed operator",
		Enabled: true,
		Conditions: []models.Condition{{
			Type: models.TypePricePump, Threshold: 5, Comparison: "more_than",
		}},
	}}

	if alerts := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull); len(alerts) != 0 {
		t.Fatalf("unknown comparison fired %d alerts", len(alerts))
	}
}

func TestPriceDump_NegatesChange(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 90.0, 0, map[time.Duration]models.HistoryEntry{
		5 * time.Minute: {Price: 100.0},
	})
	rules := []models.Rule{{
		ID:      "r1",
		Name:    "dump 5pct",
		Enabled: true,
		Conditions: []models.Condition{{
			Type: models.TypePriceDump, Threshold: 5, Comparison: models.CompareGreaterThan,
		}},
	}}

	alerts := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Value != 10.0 {
		t.Errorf("dump value = %f, want 10 (magnitude of the drop)", alerts[0].Value)
	}
}

func TestEvaluate_MissingHistorySilent(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "NEWUSDT", 110.0, 0, nil)
	rules := []models.Rule{{
		ID:      "r1",
		Name:    "pump",
		Enabled: true,
		Conditions: []models.Condition{{
			Type: models.TypePricePump, Threshold: 5, Comparison: models.CompareGreaterThan,
		}},
	}}

	if got := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull); len(got) != 0 {
		t.Fatalf("missing history must evaluate to no alerts, got %d", len(got))
	}
}

func TestEvaluate_DisabledAndFilteredRules(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 110.0, 0, map[time.Duration]models.HistoryEntry{
		5 * time.Minute: {Price: 100.0},
	})
	cond := models.Condition{Type: models.TypePricePump, Threshold: 5, Comparison: models.CompareGreaterThan}
	rules := []models.Rule{
		{ID: "r1", Name: "disabled", Enabled: false, Conditions: []models.Condition{cond}},
		{ID: "r2", Name: "other symbol", Enabled: true, Symbols: []string{"XYZUSDT"}, Conditions: []models.Condition{cond}},
	}

	if got := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull); len(got) != 0 {
		t.Fatalf("disabled or filtered rules must not fire, got %d alerts", len(got))
	}
}

func TestEvaluate_AndSemantics(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 110.0, 500_000, map[time.Duration]models.HistoryEntry{
		5 * time.Minute: {Price: 100.0, Volume: 400_000},
	})
	rules := []models.Rule{{
		ID:      "r1",
		Name:    "pump and spike",
		Enabled: true,
		Conditions: []models.Condition{
			{Type: models.TypePricePump, Threshold: 5, Comparison: models.CompareGreaterThan},
			{Type: models.TypeVolumeSpike, Threshold: 50_000, Comparison: models.CompareGreaterThan},
		},
	}}

	alerts := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull)
	if len(alerts) != 1 {
		t.Fatalf("both conditions hold, expected 1 alert, got %d", len(alerts))
	}
	// The alert carries the first condition's metrics.
	if alerts[0].Type != models.TypePricePump || alerts[0].Value != 10.0 {
		t.Errorf("alert = %q/%f, want price_pump/10", alerts[0].Type, alerts[0].Value)
	}

	rules[0].Conditions[1].Threshold = 200_000
	if got := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull); len(got) != 0 {
		t.Fatalf("one failing condition must suppress the rule, got %d alerts", len(got))
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator()
	snap := newSnap(t, "ABCUSDT", 101.0, 200_000, map[time.Duration]models.HistoryEntry{
		5 * time.Minute:  {Price: 99.5, Volume: 150_000},
		15 * time.Minute: {Price: 99.0, Volume: 300_000},
	})
	rules := singleRule(t, models.TypePioneerBull)

	first := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull)
	second := e.Evaluate([]*models.Snapshot{snap}, rules, models.MarketModeBull)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 alert per pass, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("identical inputs produced different IDs: %q vs %q", first[0].ID, second[0].ID)
	}
}
