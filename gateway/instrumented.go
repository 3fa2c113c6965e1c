package gateway

import (
	"context"
	"time"

	"pump-trader-go/market"
	"pump-trader-go/order"
)

// RequestObserver 接收每次交易所调用的计数与耗时。
type RequestObserver interface {
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
}

// Instrumented 给任意 MarketGateway 加上请求指标。
type Instrumented struct {
	MarketGateway
	obs RequestObserver
	now func() time.Time
}

// NewInstrumented 包装 gw；obs 为 nil 时原样返回 gw。
func NewInstrumented(gw MarketGateway, obs RequestObserver) MarketGateway {
	if obs == nil {
		return gw
	}
	return &Instrumented{MarketGateway: gw, obs: obs, now: time.Now}
}

func (g *Instrumented) observe(action string, start time.Time, err error) {
	g.obs.RecordRESTRequest(action)
	g.obs.RecordRESTLatency(action, g.now().Sub(start).Seconds())
	if err != nil {
		g.obs.RecordRESTError(action)
	}
}

func (g *Instrumented) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	start := g.now()
	out, err := g.MarketGateway.FetchTickers(ctx)
	g.observe("fetch_tickers", start, err)
	return out, err
}

func (g *Instrumented) FetchTicker(ctx context.Context, pair string) (Ticker, error) {
	start := g.now()
	out, err := g.MarketGateway.FetchTicker(ctx, pair)
	g.observe("fetch_ticker", start, err)
	return out, err
}

func (g *Instrumented) FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	start := g.now()
	out, err := g.MarketGateway.FetchOrderBook(ctx, pair)
	g.observe("fetch_order_book", start, err)
	return out, err
}

func (g *Instrumented) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	start := g.now()
	out, err := g.MarketGateway.FetchBalance(ctx)
	g.observe("fetch_balance", start, err)
	return out, err
}

func (g *Instrumented) FetchOrder(ctx context.Context, id, pair string) (order.Order, error) {
	start := g.now()
	out, err := g.MarketGateway.FetchOrder(ctx, id, pair)
	g.observe("fetch_order", start, err)
	return out, err
}

func (g *Instrumented) CreateMarketBuy(ctx context.Context, pair string, sizeOrCost float64) (order.Order, error) {
	start := g.now()
	out, err := g.MarketGateway.CreateMarketBuy(ctx, pair, sizeOrCost)
	g.observe("create_market_buy", start, err)
	return out, err
}

func (g *Instrumented) CreateLimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	start := g.now()
	out, err := g.MarketGateway.CreateLimitBuy(ctx, pair, amount, price)
	g.observe("create_limit_buy", start, err)
	return out, err
}

func (g *Instrumented) CreateLimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	start := g.now()
	out, err := g.MarketGateway.CreateLimitSell(ctx, pair, amount, price)
	g.observe("create_limit_sell", start, err)
	return out, err
}

func (g *Instrumented) CancelOrder(ctx context.Context, id, pair string) error {
	start := g.now()
	err := g.MarketGateway.CancelOrder(ctx, id, pair)
	g.observe("cancel_order", start, err)
	return err
}

func (g *Instrumented) Precision(ctx context.Context, pair string) (order.Precision, error) {
	start := g.now()
	out, err := g.MarketGateway.Precision(ctx, pair)
	g.observe("precision", start, err)
	return out, err
}
