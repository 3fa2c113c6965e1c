package posttrade

import (
	"math"
	"testing"

	"pump-trader-go/internal/recorder"
	"pump-trader-go/internal/session"
)

func entry(kind session.Kind, result session.Result, profit float64, leaked ...string) recorder.JournalEntry {
	return recorder.JournalEntry{Pair: "DOGE/USDT", Kind: kind, Result: result, EstimatedProfit: profit, LeakedOrders: leaked}
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]recorder.JournalEntry{
		entry(session.KindPump, session.ResultTotal, 0.1),
		entry(session.KindPump, session.ResultPartial, 0.04),
		entry(session.KindPump, session.ResultTracked, 0),
		entry(session.KindPump, session.ResultAbandoned, 0),
		entry(session.KindPump, session.ResultKilled, 0, "o1"),
		entry(session.KindSpread, session.ResultExpired, 0, "b1", "s1"),
	})

	if stats.Sessions != 6 {
		t.Errorf("Expected 6 sessions, got %d", stats.Sessions)
	}
	// abandoned 没有入场，不计入命中率分母
	if stats.Entered != 4 || stats.TargetHits != 2 {
		t.Errorf("Expected 4 entered / 2 hits, got %d / %d", stats.Entered, stats.TargetHits)
	}
	if math.Abs(stats.HitRate-0.5) > 1e-9 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
	if math.Abs(stats.EstimatedProfit-0.14) > 1e-9 {
		t.Errorf("Expected profit 0.14, got %f", stats.EstimatedProfit)
	}
	if stats.LeakedOrders != 3 {
		t.Errorf("Expected 3 leaked orders, got %d", stats.LeakedOrders)
	}
	if stats.ByResult[session.ResultExpired] != 1 {
		t.Errorf("Expected 1 expired session, got %d", stats.ByResult[session.ResultExpired])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	if stats.Sessions != 0 || stats.HitRate != 0 {
		t.Errorf("Expected zero stats, got %+v", stats)
	}
}
