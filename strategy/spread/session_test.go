package spread

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/gateway"
	"pump-trader-go/gateway/gatewaytest"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/internal/session"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

const pair = "DOGE/USDT"

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newSession(t *testing.T, gw *gatewaytest.Fake, mutate func(*config.SpreadTunables)) (*Session, *clock.Fake) {
	t.Helper()
	tu := config.Defaults()
	tu.Spread.TimeLimit = 2 * time.Second
	tu.Spread.MaxDuration = 5 * time.Second
	if mutate != nil {
		mutate(&tu.Spread)
	}
	store, err := config.NewStore(tu)
	require.NoError(t, err)
	clk := clock.NewFake(t0)
	s, err := New(pair, order_manager.NewExecutor(gw, clk, nil, nil), store, nil)
	require.NoError(t, err)
	return s, clk
}

func ordersOf(gw *gatewaytest.Fake, side order.Side) []order.Order {
	var out []order.Order
	for _, o := range gw.Orders() {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func TestBuyNeverPlacedAfterWindow(t *testing.T) {
	gw := gatewaytest.New()
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.0, 0.99, 2.0, 2.01)
	s, clk := newSession(t, gw, nil)

	var mu sync.Mutex
	var placedAt []time.Duration
	gw.OnLimitBuy = func(int, float64, float64) error {
		mu.Lock()
		placedAt = append(placedAt, clk.Now().Sub(t0))
		mu.Unlock()
		return nil
	}
	// 买单每轮成交，迫使买侧不断重新挂单
	gw.OnFetchOrder = func(_ int, o *order.Order) error {
		if o.Side == order.SideBuy {
			gw.Settle(o)
		}
		return nil
	}

	out := s.Run(context.Background())
	assert.Equal(t, session.ResultExpired, out.Result)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, placedAt)
	for _, at := range placedAt {
		assert.Less(t, at, 2*time.Second)
	}
	assert.Equal(t, 1, gw.MaxOpen(order.SideBuy))
	assert.Equal(t, 1, gw.MaxOpen(order.SideSell))
	assert.Greater(t, s.Stats().BuysFilled, 1)
}

func TestBuySideIdleBelowActivation(t *testing.T) {
	gw := gatewaytest.New()
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.99, 1.98, 2.0, 2.01)
	s, _ := newSession(t, gw, nil)

	out := s.Run(context.Background())
	assert.Equal(t, session.ResultExpired, out.Result)
	assert.Equal(t, 0, gw.Calls("limit_buy"))
	assert.Equal(t, 0, gw.Calls("limit_sell"))
	assert.Empty(t, out.LeakedOrders)
}

func TestBuyRequotesWhenOutbid(t *testing.T) {
	gw := gatewaytest.New()
	gw.OnOrderBook = func(call int) (market.OrderBook, error) {
		if call <= 2 {
			return gatewaytest.TwoLevelBook(pair, 1.0, 0.99, 2.0, 2.01), nil
		}
		return gatewaytest.TwoLevelBook(pair, 1.05, 1.0, 2.0, 2.01), nil
	}
	s, _ := newSession(t, gw, nil)

	s.Run(context.Background())
	buys := ordersOf(gw, order.SideBuy)
	require.GreaterOrEqual(t, len(buys), 2)
	assert.True(t, near(buys[0].Price, 1.01))
	assert.Equal(t, order.StatusCanceled, buys[0].Status)
	assert.True(t, near(buys[1].Price, 1.06), "requote price %v", buys[1].Price)
	assert.Equal(t, 1, gw.MaxOpen(order.SideBuy))
}

func TestBuyUsesSecondBidOnWideGap(t *testing.T) {
	gw := gatewaytest.New()
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.0, 0.5, 2.0, 2.01)
	s, _ := newSession(t, gw, nil)

	s.Run(context.Background())
	buys := ordersOf(gw, order.SideBuy)
	require.GreaterOrEqual(t, len(buys), 2)
	assert.True(t, near(buys[0].Price, 1.01))
	assert.True(t, near(buys[1].Price, 0.51), "gap requote price %v", buys[1].Price)
}

func TestSellUsesSecondAskOnWideGap(t *testing.T) {
	gw := gatewaytest.New()
	gw.Balances["DOGE"] = gateway.Balance{Free: 10}
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.99, 1.98, 2.0, 3.0)
	s, _ := newSession(t, gw, nil)

	out := s.Run(context.Background())
	sells := ordersOf(gw, order.SideSell)
	require.GreaterOrEqual(t, len(sells), 2)
	assert.True(t, near(sells[0].Price, 1.99))
	assert.True(t, near(sells[0].Amount, 10))
	assert.True(t, near(sells[1].Price, 2.99), "gap requote price %v", sells[1].Price)
	assert.Equal(t, 1, gw.MaxOpen(order.SideSell))
	assert.Equal(t, session.ResultExpired, out.Result)
	assert.Empty(t, out.LeakedOrders)
	assert.Equal(t, 0, gw.OpenOrders(order.SideSell))
}

func TestExpiryCancelsBothSides(t *testing.T) {
	gw := gatewaytest.New()
	gw.Balances["DOGE"] = gateway.Balance{Free: 10}
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.0, 0.99, 2.0, 2.01)
	s, clk := newSession(t, gw, nil)

	out := s.Run(context.Background())
	assert.Equal(t, session.ResultExpired, out.Result)
	assert.Empty(t, out.LeakedOrders)
	assert.Empty(t, s.OpenOrders())
	assert.Equal(t, 0, gw.OpenOrders(order.SideBuy))
	assert.Equal(t, 0, gw.OpenOrders(order.SideSell))
	assert.GreaterOrEqual(t, clk.Now().Sub(t0), 5*time.Second)

	require.NotEmpty(t, ordersOf(gw, order.SideBuy))
	require.NotEmpty(t, ordersOf(gw, order.SideSell))
	for _, o := range gw.Orders() {
		assert.Equal(t, order.StatusCanceled, o.Status)
	}
	buy, sell := s.Sides()
	assert.Equal(t, SideIdle, buy)
	assert.Equal(t, SideIdle, sell)
}

func TestSkipsIterationWhenBookFails(t *testing.T) {
	gw := gatewaytest.New()
	gw.OnOrderBook = func(int) (market.OrderBook, error) { return market.OrderBook{}, gatewaytest.Unavailable() }
	s, _ := newSession(t, gw, nil)

	out := s.Run(context.Background())
	assert.Equal(t, session.ResultExpired, out.Result)
	assert.Greater(t, gw.Calls("order_book"), 10)
	assert.Equal(t, 0, gw.Calls("limit_buy"))
}

func TestKillLeavesOrdersOnVenue(t *testing.T) {
	gw := gatewaytest.New()
	gw.Balances["DOGE"] = gateway.Balance{Free: 10}
	gw.Book = gatewaytest.TwoLevelBook(pair, 1.0, 0.99, 2.0, 2.01)
	s, _ := newSession(t, gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.OnFetchOrder = func(call int, _ *order.Order) error {
		if call == 4 {
			cancel()
		}
		return nil
	}

	out := s.Run(ctx)
	assert.Equal(t, session.ResultKilled, out.Result)
	assert.Len(t, out.LeakedOrders, 2)
	assert.Equal(t, 1, gw.OpenOrders(order.SideBuy))
	assert.Equal(t, 1, gw.OpenOrders(order.SideSell))
	buy, sell := s.Sides()
	assert.Equal(t, SideQuoted, buy)
	assert.Equal(t, SideQuoted, sell)
}
