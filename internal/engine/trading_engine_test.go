package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/gateway"
	"pump-trader-go/gateway/gatewaytest"
	"pump-trader-go/infrastructure/alert"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/dispatcher"
	"pump-trader-go/internal/engine"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/internal/scanner"
	"pump-trader-go/internal/session"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

const pair = "DOGE/USDT"

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// journal 收集会话结果
type journal struct {
	mu  sync.Mutex
	out []session.Outcome
	ch  chan session.Outcome
}

func newJournal() *journal { return &journal{ch: make(chan session.Outcome, 16)} }

func (j *journal) SaveOutcome(ctx context.Context, out session.Outcome) error {
	j.mu.Lock()
	j.out = append(j.out, out)
	j.mu.Unlock()
	j.ch <- out
	return nil
}

func (j *journal) next(t *testing.T) session.Outcome {
	t.Helper()
	select {
	case out := <-j.ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("no session outcome")
		return session.Outcome{}
	}
}

type sessionMetrics struct {
	mu       sync.Mutex
	started  map[string]int
	finished map[string]int
}

func (m *sessionMetrics) SessionStarted(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[kind]++
}

func (m *sessionMetrics) SessionFinished(kind, result string, d time.Duration, profit float64, leaked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[kind+":"+result]++
}

func (m *sessionMetrics) startedCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[kind]
}

// blockingBook 盘口请求一直阻塞到 ctx 取消
type blockingBook struct {
	*gatewaytest.Fake
}

func (b blockingBook) FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	<-ctx.Done()
	return market.OrderBook{}, ctx.Err()
}

type fixture struct {
	gw         *gatewaytest.Fake
	store      *config.Store
	suspension *scanner.Suspension
	queue      *scanner.Queue
	journal    *journal
	metrics    *sessionMetrics
	alerts     *alert.MockChannel
	eng        *engine.TradingEngine
}

func newFixture(t *testing.T, mutate func(*config.Tunables), wrap func(*gatewaytest.Fake) gateway.MarketGateway) *fixture {
	t.Helper()
	gw := gatewaytest.New()
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.99, 1.98, 2.0, 2.01)
	gw.OnFetchOrder = func(_ int, o *order.Order) error {
		if o.Side == order.SideSell {
			gw.Settle(o)
		}
		return nil
	}

	tu := config.Defaults()
	tu.Spread.MaxDuration = 2 * time.Second
	if mutate != nil {
		mutate(&tu)
	}
	store, err := config.NewStore(tu)
	require.NoError(t, err)

	var g gateway.MarketGateway = gw
	if wrap != nil {
		g = wrap(gw)
	}
	clk := clock.NewFake(t0)
	exec := order_manager.NewExecutor(g, clk, nil, nil)

	f := &fixture{
		gw:         gw,
		store:      store,
		suspension: scanner.NewSuspension(clock.NewFake(t0)),
		queue:      scanner.NewQueue(),
		journal:    newJournal(),
		metrics:    &sessionMetrics{started: map[string]int{}, finished: map[string]int{}},
		alerts:     alert.NewMockChannel("mock"),
	}
	sc := scanner.New(gw, store, f.queue, f.suspension)
	f.eng, err = engine.New(engine.Config{}, engine.Components{
		Store:        store,
		Executor:     exec,
		Scanner:      sc,
		Queue:        f.queue,
		Suspension:   f.suspension,
		Policy:       dispatcher.NewAutoBuyPolicy(),
		AlertManager: alert.NewManager([]alert.Channel{f.alerts}, 0),
		Journal:      f.journal,
		Metrics:      f.metrics,
		Clock:        clk,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.eng.Start(context.Background()))
	t.Cleanup(func() {
		if f.eng.GetState() == engine.StateRunning {
			_ = f.eng.Stop()
		}
	})
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := engine.New(engine.Config{}, engine.Components{})
	require.Error(t, err)
	for _, want := range []string{"store", "executor", "scanner", "queue", "suspension"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBuyRequiresRunningEngine(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.eng.TryBuy(pair, "manual")
	assert.ErrorIs(t, err, engine.ErrNotRunning)
	assert.Equal(t, engine.StateIdle, f.eng.GetState())
}

func TestBuyRunsPumpSessionToOutcome(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.start(t)

	id, err := f.eng.TryBuy(pair, "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, f.suspension.Suspended(), "buy throttles the scanner")

	out := f.journal.next(t)
	assert.Equal(t, id, out.ID)
	assert.Equal(t, session.KindPump, out.Kind)
	assert.Equal(t, session.ResultTotal, out.Result)

	f.eng.Wait()
	stats := f.eng.GetStatistics()
	assert.EqualValues(t, 1, stats.Launched)
	assert.EqualValues(t, 1, stats.ByResult[session.ResultTotal])
	assert.Equal(t, 1, f.metrics.startedCount("pump"))

	var messages []string
	for _, a := range f.alerts.GetAlerts() {
		messages = append(messages, a.Message)
	}
	assert.Contains(t, messages, "buy launched")
	assert.Contains(t, messages, "pump session total")
}

func TestManualBuyClearsSchedule(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.start(t)

	f.eng.Policy().Schedule(t0)
	require.True(t, f.eng.Policy().Snapshot().Scheduled)

	_, err := f.eng.ManualBuy(pair)
	require.NoError(t, err)
	assert.False(t, f.eng.Policy().Snapshot().Scheduled)
	f.journal.next(t)
}

func TestFollowUpSpreadSession(t *testing.T) {
	f := newFixture(t, func(tu *config.Tunables) {
		tu.Spread.Enabled = true
		tu.Spread.Delay = 70 * time.Second
	}, nil)
	f.start(t)

	_, err := f.eng.TryBuy(pair, "buy_next")
	require.NoError(t, err)

	// 两个会话共用一份余额，拉盘会话的结果取决于谁先挂出卖单，这里只校验价差会话
	kinds := map[session.Kind]session.Result{}
	for i := 0; i < 2; i++ {
		out := f.journal.next(t)
		kinds[out.Kind] = out.Result
	}
	assert.Contains(t, kinds, session.KindPump)
	assert.Equal(t, session.ResultExpired, kinds[session.KindSpread])
	assert.Equal(t, 1, f.metrics.startedCount("spread"))
}

func TestKillReportsKilledOutcome(t *testing.T) {
	f := newFixture(t, nil, func(gw *gatewaytest.Fake) gateway.MarketGateway { return blockingBook{gw} })
	f.start(t)

	_, err := f.eng.TryBuy(pair, "manual")
	require.NoError(t, err)
	require.Len(t, f.eng.Sessions(), 1)

	assert.Equal(t, 1, f.eng.Kill(pair))
	out := f.journal.next(t)
	assert.Equal(t, session.ResultKilled, out.Result)
	assert.Equal(t, 0, f.gw.Calls("market_buy"))

	f.eng.Wait()
	assert.Empty(t, f.eng.Sessions())
	assert.Equal(t, 0, f.eng.Kill("PEPE/USDT"))
}

func TestDispatcherLaunchesAutoBuy(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.start(t)

	f.eng.Policy().SetBuyNext(true, "")
	f.queue.Push(scanner.AnomalyEvent{Symbol: pair, PricePercentChange: 3, CurrentQuoteVolume: 60, PreviousQuoteVolume: 10})

	out := f.journal.next(t)
	assert.Equal(t, pair, out.Pair)
	assert.False(t, f.eng.Policy().Snapshot().BuyNext, "buy-next flag is one-shot")
}

func TestScannerToggle(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.ErrorIs(t, f.eng.StartScanner(), engine.ErrNotRunning)

	f.start(t)
	assert.False(t, f.eng.ScannerRunning())
	require.NoError(t, f.eng.StartScanner())
	require.NoError(t, f.eng.StartScanner())
	assert.True(t, f.eng.ScannerRunning())

	assert.True(t, f.eng.StopScanner())
	assert.False(t, f.eng.StopScanner())
	assert.False(t, f.eng.ScannerRunning())
}

func TestStopKillsSessionsAndAllowsRestart(t *testing.T) {
	f := newFixture(t, nil, func(gw *gatewaytest.Fake) gateway.MarketGateway { return blockingBook{gw} })
	f.start(t)

	_, err := f.eng.TryBuy(pair, "manual")
	require.NoError(t, err)
	require.NoError(t, f.eng.Stop())
	assert.Equal(t, engine.StateStopped, f.eng.GetState())
	assert.Equal(t, session.ResultKilled, f.journal.next(t).Result)

	assert.Error(t, f.eng.Stop())
	_, err = f.eng.TryBuy(pair, "manual")
	assert.ErrorIs(t, err, engine.ErrNotRunning)

	require.NoError(t, f.eng.Start(context.Background()))
	assert.Equal(t, engine.StateRunning, f.eng.GetState())
}
