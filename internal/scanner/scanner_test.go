package scanner

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/gateway"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
)

func f(v float64) *float64 { return &v }

func tick(sym string, last, vol *float64) gateway.Ticker {
	return gateway.Ticker{Symbol: sym, Last: last, QuoteVolume: vol}
}

func newTestScanner(t *testing.T, mutate func(*config.Tunables)) *Scanner {
	t.Helper()
	tu := config.Defaults()
	if mutate != nil {
		mutate(&tu)
	}
	store, err := config.NewStore(tu)
	require.NoError(t, err)
	return New(nil, store, NewQueue(), NewSuspension(nil))
}

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestProcessVolumeAndPriceSpike(t *testing.T) {
	s := newTestScanner(t, nil)

	events := s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.0), f(10))}, now)
	assert.Empty(t, events, "首次出现只建立基准")

	events = s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.03), f(60))}, now)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "X/USDT", ev.Symbol)
	assert.Equal(t, 3.0, ev.PricePercentChange)
	assert.Equal(t, 10.0, ev.PreviousQuoteVolume)
	assert.Equal(t, 60.0, ev.CurrentQuoteVolume)
	assert.Equal(t, now, ev.DetectedAt)

	b, ok := s.Baseline("X/USDT")
	require.True(t, ok)
	assert.Equal(t, 60.0, b.MinQuoteVolume)
	assert.Equal(t, 1.0, b.MinPrice)
}

func TestProcessReplayDoesNotRefire(t *testing.T) {
	s := newTestScanner(t, nil)
	s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.0), f(10))}, now)
	spike := map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.03), f(60))}
	require.Len(t, s.Process(spike, now), 1)
	assert.Empty(t, s.Process(spike, now))
	assert.Empty(t, s.Process(spike, now))
}

func TestProcessSingleConditionDoesNotFire(t *testing.T) {
	tests := []struct {
		name string
		next gateway.Ticker
	}{
		{"只有放量", tick("X/USDT", f(1.0), f(100))},
		{"只有涨价", tick("X/USDT", f(1.5), f(10))},
		{"量比不足", tick("X/USDT", f(1.5), f(10.9))},
		{"涨幅不足", tick("X/USDT", f(1.019), f(100))},
		{"价格缺失", tick("X/USDT", nil, f(100))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScanner(t, nil)
			s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.0), f(10))}, now)
			assert.Empty(t, s.Process(map[string]gateway.Ticker{"X/USDT": tt.next}, now))
			b, _ := s.Baseline("X/USDT")
			assert.Equal(t, 10.0, b.MinQuoteVolume, "未触发时成交额基准不变")
		})
	}
}

func TestProcessVolumeFloor(t *testing.T) {
	s := newTestScanner(t, nil)
	s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.0), f(1))}, now)
	// 量比 4 倍、涨 5%，但成交额低于 5
	assert.Empty(t, s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.05), f(4))}, now))
	require.Len(t, s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.05), f(5))}, now), 1)
}

func TestProcessZeroBaseline(t *testing.T) {
	s := newTestScanner(t, nil)
	s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.0), f(0))}, now)
	assert.Empty(t, s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.05), f(4))}, now))
	events := s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.05), f(6))}, now)
	require.Len(t, events, 1)
	assert.Equal(t, 0.0, events[0].PreviousQuoteVolume)
}

func TestProcessSkipsIrrelevantTickers(t *testing.T) {
	s := newTestScanner(t, nil)
	s.Process(map[string]gateway.Ticker{
		"X/BTC":  tick("X/BTC", f(1), f(10)),
		"Y/USDT": tick("Y/USDT", f(1), nil),
	}, now)
	assert.Equal(t, 0, s.Tracked())
}

func TestProcessAllowList(t *testing.T) {
	s := newTestScanner(t, func(tu *config.Tunables) {
		tu.Scanner.FilterEnabled = true
		tu.Scanner.AllowList = []string{"A/USDT"}
	})
	s.Process(map[string]gateway.Ticker{
		"A/USDT": tick("A/USDT", f(1), f(10)),
		"B/USDT": tick("B/USDT", f(1), f(10)),
	}, now)
	events := s.Process(map[string]gateway.Ticker{
		"A/USDT": tick("A/USDT", f(1.1), f(100)),
		"B/USDT": tick("B/USDT", f(1.1), f(100)),
	}, now)
	require.Len(t, events, 1)
	assert.Equal(t, "A/USDT", events[0].Symbol)
}

func TestProcessNullPriceBaseline(t *testing.T) {
	s := newTestScanner(t, nil)
	s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", nil, f(10))}, now)
	b, _ := s.Baseline("X/USDT")
	assert.False(t, b.HasPrice)

	// 基准价为空时本轮无涨幅，只补上基准价
	assert.Empty(t, s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(2), f(100))}, now))
	b, _ = s.Baseline("X/USDT")
	assert.True(t, b.HasPrice)
	assert.Equal(t, 2.0, b.MinPrice)
}

func TestMinPriceNeverIncreases(t *testing.T) {
	s := newTestScanner(t, nil)
	rng := rand.New(rand.NewSource(7))
	last := -1.0
	for i := 0; i < 500; i++ {
		price := 0.5 + rng.Float64()
		var p *float64
		if rng.Intn(10) > 0 {
			p = &price
		}
		s.Process(map[string]gateway.Ticker{"X/USDT": tick("X/USDT", p, f(10+rng.Float64()*100))}, now)
		b, ok := s.Baseline("X/USDT")
		require.True(t, ok)
		if !b.HasPrice {
			continue
		}
		if last >= 0 {
			require.LessOrEqual(t, b.MinPrice, last)
		}
		last = b.MinPrice
	}
}

type sourceFunc func(ctx context.Context) (map[string]gateway.Ticker, error)

func (fn sourceFunc) FetchTickers(ctx context.Context) (map[string]gateway.Ticker, error) {
	return fn(ctx)
}

func TestRunPushesEventsAndSurvivesErrors(t *testing.T) {
	tu := config.Defaults()
	store, err := config.NewStore(tu)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	src := sourceFunc(func(context.Context) (map[string]gateway.Ticker, error) {
		calls++
		switch calls {
		case 1:
			return map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1), f(10))}, nil
		case 2:
			return nil, errors.New("network down")
		case 3:
			return map[string]gateway.Ticker{"X/USDT": tick("X/USDT", f(1.03), f(60))}, nil
		default:
			cancel()
			return nil, ctx.Err()
		}
	})

	clk := clock.NewFake(now)
	q := NewQueue()
	s := New(src, store, q, NewSuspension(clk), WithClock(clk))
	require.NoError(t, s.Run(ctx))

	events := q.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, "X/USDT", events[0].Symbol)
	assert.Equal(t, 4, calls)
}

func TestRunSleepsLongerWhenSuspended(t *testing.T) {
	store, err := config.NewStore(config.Defaults())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(now)
	susp := NewSuspension(clk)
	susp.Set()

	calls := 0
	src := sourceFunc(func(context.Context) (map[string]gateway.Ticker, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return map[string]gateway.Ticker{}, nil
	})
	s := New(src, store, NewQueue(), susp, WithClock(clk))
	require.NoError(t, s.Run(ctx))

	// 两轮各 2.5s 额外休眠，中间一次 200ms 轮询间隔
	elapsed := clk.Now().Sub(now)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second+200*time.Millisecond)
	assert.Equal(t, 2, calls)
}
