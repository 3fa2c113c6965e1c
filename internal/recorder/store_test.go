package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/internal/session"
	"pump-trader-go/market"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "rec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotsRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.SaveSnapshot(ctx, Snapshot{
			Pair: "DOGE/USDT",
			At:   t0.Add(time.Duration(i) * time.Second),
			Bids: []market.Level{{Price: 1.0 + float64(i)/100, Volume: 10}},
			Asks: []market.Level{{Price: 1.1, Volume: 5}, {Price: 1.2, Volume: 7}},
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveSnapshot(ctx, Snapshot{Pair: "PEPE/USDT", At: t0}))

	got, err := s.Snapshots(ctx, "DOGE/USDT", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 取最近 3 条，按时间正序
	assert.Equal(t, t0.Add(2*time.Second), got[0].At)
	assert.Equal(t, t0.Add(4*time.Second), got[2].At)
	assert.InDelta(t, 1.04, got[2].Bids[0].Price, 1e-12)
	assert.Len(t, got[2].Asks, 2)

	none, err := s.Snapshots(ctx, "SHIB/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutcomeJournal(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	outcomes := []session.Outcome{
		{ID: "a", Pair: "DOGE/USDT", Kind: session.KindPump, Result: session.ResultTotal,
			EntryPrice: 2, EstimatedProfit: 0.1, Started: t0, Finished: t0.Add(10 * time.Second)},
		{ID: "b", Pair: "PEPE/USDT", Kind: session.KindSpread, Result: session.ResultKilled,
			LeakedOrders: []string{"11", "12"}, Started: t0, Finished: t0.Add(time.Minute)},
		{ID: "c", Pair: "SHIB/USDT", Kind: session.KindPump, Result: session.ResultAbandoned,
			Err: errors.New("market buy: exhausted"), Started: t0, Finished: t0.Add(time.Second)},
	}
	for _, o := range outcomes {
		require.NoError(t, s.SaveOutcome(ctx, o))
	}

	got, err := s.RecentOutcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, []string{"11", "12"}, got[0].LeakedOrders)
	assert.Equal(t, session.KindSpread, got[0].Kind)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, 0.1, got[1].EstimatedProfit)
	assert.Nil(t, got[1].LeakedOrders)

	all, err := s.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "market buy: exhausted", all[2].Error)
}

func TestSaveOutcomeReplacesSameID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	o := session.Outcome{ID: "x", Pair: "DOGE/USDT", Kind: session.KindPump, Result: session.ResultTracked, Started: t0, Finished: t0}
	require.NoError(t, s.SaveOutcome(ctx, o))
	o.Result = session.ResultTotal
	require.NoError(t, s.SaveOutcome(ctx, o))

	got, err := s.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, session.ResultTotal, got[0].Result)
}
