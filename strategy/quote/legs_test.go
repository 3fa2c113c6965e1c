package quote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/gateway"
	"pump-trader-go/gateway/gatewaytest"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

const pair = "DOGE/USDT"

func newLeg(gw *gatewaytest.Fake) Leg {
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return Leg{
		Exec:  order_manager.NewExecutor(gw, clk, nil, nil),
		Slots: order.NewManager(pair),
		Pair:  pair,
		Base:  "DOGE",
		Prec:  gw.Prec,
		Log:   logger.NewNop(),
	}
}

func withBase(gw *gatewaytest.Fake, free float64) {
	gw.Balances["DOGE"] = gateway.Balance{Free: free}
}

func top(bid1, bid2, ask1, ask2 float64) market.Top {
	return market.Top{BestBid: bid1, SecondBid: bid2, BestAsk: ask1, SecondAsk: ask2}
}

func TestSellLegUndercutsBestAsk(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := &SellLeg{Leg: newLeg(gw), AskGap: 0.3}

	free, err := leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	assert.Zero(t, free)
	assert.True(t, leg.Live())

	orders := gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, order.SideSell, orders[0].Side)
	assert.InDelta(t, 1.09, orders[0].Price, 1e-9)
	assert.InDelta(t, 10, orders[0].Amount, 1e-9)
}

func TestSellLegRequotesWhenUndercut(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := &SellLeg{Leg: newLeg(gw), AskGap: 0.3}
	ctx := context.Background()

	_, err := leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	_, err = leg.Step(ctx, top(1.0, 0.99, 1.05, 1.06))
	require.NoError(t, err)

	orders := gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusCanceled, orders[0].Status)
	assert.Equal(t, order.StatusOpen, orders[1].Status)
	assert.InDelta(t, 1.04, orders[1].Price, 1e-9)
	assert.InDelta(t, 10, orders[1].Amount, 1e-9)
	assert.Equal(t, 1, gw.MaxOpen(order.SideSell))
}

func TestSellLegUsesSecondAskOnGap(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := &SellLeg{Leg: newLeg(gw), AskGap: 0.05}
	ctx := context.Background()

	_, err := leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	// 卖一是自己的单，卖二远高于卖一
	_, err = leg.Step(ctx, top(1.0, 0.99, 1.09, 1.20))
	require.NoError(t, err)

	orders := gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusCanceled, orders[0].Status)
	assert.InDelta(t, 1.19, orders[1].Price, 1e-9)
}

func TestSellLegReleasesFilledOrder(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := &SellLeg{Leg: newLeg(gw), AskGap: 0.3}
	ctx := context.Background()

	_, err := leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	gw.FillOpen(order.SideSell)

	free, err := leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	assert.Zero(t, free)
	assert.Equal(t, 1, leg.Filled)
	assert.False(t, leg.Live())
	assert.Len(t, gw.Orders(), 1)
}

func TestSellLegIgnoresDust(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 0.01)
	leg := &SellLeg{Leg: newLeg(gw), AskGap: 0.3}

	free, err := leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	assert.InDelta(t, 0.01, free, 1e-12)
	assert.Empty(t, gw.Orders())
}

func TestBuyLegInactiveBelowActivation(t *testing.T) {
	gw := gatewaytest.New()
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 20, BidGap: 0.2}

	require.NoError(t, leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11), true))
	assert.Empty(t, gw.Orders())
	assert.Zero(t, leg.Placed)
}

func TestBuyLegPlacesAboveBestBid(t *testing.T) {
	gw := gatewaytest.New()
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 5, BidGap: 0.2}

	require.NoError(t, leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11), true))

	orders := gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, order.SideBuy, orders[0].Side)
	assert.InDelta(t, 1.01, orders[0].Price, 1e-9)
	assert.InDelta(t, 9.9, orders[0].Amount, 1e-9)
	assert.Equal(t, 1, leg.Placed)
}

func TestBuyLegWithoutPlacementWindow(t *testing.T) {
	gw := gatewaytest.New()
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 5, BidGap: 0.2}

	require.NoError(t, leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11), false))
	assert.Empty(t, gw.Orders())
}

func TestBuyLegRequotesWhenOutbid(t *testing.T) {
	gw := gatewaytest.New()
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 5, BidGap: 0.2}
	ctx := context.Background()

	require.NoError(t, leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11), true))
	require.NoError(t, leg.Step(ctx, top(1.02, 1.01, 1.20, 1.21), true))

	orders := gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusCanceled, orders[0].Status)
	assert.InDelta(t, 1.03, orders[1].Price, 1e-9)
	assert.Equal(t, 2, leg.Placed)
	assert.Equal(t, 1, gw.MaxOpen(order.SideBuy))
}

func TestBuyLegUsesSecondBidOnGap(t *testing.T) {
	gw := gatewaytest.New()
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 5, BidGap: 0.1}
	ctx := context.Background()

	require.NoError(t, leg.Step(ctx, top(1.0, 0.99, 1.10, 1.11), true))
	// 买一是自己的单，买二跌得很远
	require.NoError(t, leg.Step(ctx, top(1.01, 0.90, 1.20, 1.21), true))

	orders := gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusCanceled, orders[0].Status)
	assert.InDelta(t, 0.91, orders[1].Price, 1e-9)
}

func TestBuyLegGivesUpAfterRejections(t *testing.T) {
	gw := gatewaytest.New()
	gw.OnLimitBuy = func(int, float64, float64) error { return gatewaytest.Rejected() }
	leg := &BuyLeg{Leg: newLeg(gw), USD: 10, ActivationPct: 5, BidGap: 0.2}

	require.NoError(t, leg.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11), true))
	assert.Zero(t, leg.Placed)
	assert.Equal(t, 3, gw.Calls("limit_buy"))
	_, live := leg.Slots.Live(order.SideBuy)
	assert.False(t, live)
}

func TestCancelLiveClearsBothSides(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := newLeg(gw)
	buy := &BuyLeg{Leg: leg, USD: 10, ActivationPct: 5, BidGap: 0.2}
	sell := &SellLeg{Leg: leg, AskGap: 0.3}
	ctx := context.Background()

	require.NoError(t, buy.Step(ctx, top(1.0, 0.99, 1.10, 1.11), true))
	_, err := sell.Step(ctx, top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)
	require.Len(t, leg.Slots.OpenIDs(), 2)

	assert.True(t, leg.CancelLive(ctx))
	assert.Empty(t, leg.Slots.OpenIDs())
	assert.Equal(t, 0, gw.OpenOrders(order.SideBuy))
	assert.Equal(t, 0, gw.OpenOrders(order.SideSell))
	for _, o := range gw.Orders() {
		assert.Equal(t, order.StatusCanceled, o.Status)
	}
}

func TestCancelLiveStopsOnDoneContext(t *testing.T) {
	gw := gatewaytest.New()
	withBase(gw, 10)
	leg := newLeg(gw)
	sell := &SellLeg{Leg: leg, AskGap: 0.3}

	_, err := sell.Step(context.Background(), top(1.0, 0.99, 1.10, 1.11))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, leg.CancelLive(ctx))
	assert.Len(t, leg.Slots.OpenIDs(), 1)
	assert.Equal(t, 1, gw.OpenOrders(order.SideSell))
}
