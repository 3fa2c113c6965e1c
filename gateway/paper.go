package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pump-trader-go/market"
	"pump-trader-go/order"
)

// MarketData 只读行情能力，PaperGateway 从它取价格。
type MarketData interface {
	FetchTickers(ctx context.Context) (map[string]Ticker, error)
	FetchTicker(ctx context.Context, pair string) (Ticker, error)
	FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error)
	Precision(ctx context.Context, pair string) (order.Precision, error)
}

// PaperGateway 行情走真实数据源，订单与余额在内存中模拟。
// 市价单按卖一价立即成交；限价单在查询时与最新盘口比较后成交。
type PaperGateway struct {
	data     MarketData
	name     string
	usesCost bool

	mu       sync.Mutex
	balances map[string]*Balance
	orders   map[string]*order.Order
}

// NewPaperGateway 创建模拟网关，初始持有 startQuote 的计价币。
func NewPaperGateway(data MarketData, quote string, startQuote float64, usesCost bool) *PaperGateway {
	return &PaperGateway{
		data:     data,
		name:     "paper",
		usesCost: usesCost,
		balances: map[string]*Balance{strings.ToUpper(quote): {Free: startQuote}},
		orders:   make(map[string]*order.Order),
	}
}

func (p *PaperGateway) Name() string            { return p.name }
func (p *PaperGateway) MarketBuyUsesCost() bool { return p.usesCost }

func (p *PaperGateway) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	return p.data.FetchTickers(ctx)
}

func (p *PaperGateway) FetchTicker(ctx context.Context, pair string) (Ticker, error) {
	return p.data.FetchTicker(ctx, pair)
}

func (p *PaperGateway) FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	return p.data.FetchOrderBook(ctx, pair)
}

func (p *PaperGateway) Precision(ctx context.Context, pair string) (order.Precision, error) {
	return p.data.Precision(ctx, pair)
}

func (p *PaperGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Balance, len(p.balances))
	for k, v := range p.balances {
		out[k] = *v
	}
	return out, nil
}

func (p *PaperGateway) balance(asset string) *Balance {
	b, ok := p.balances[asset]
	if !ok {
		b = &Balance{}
		p.balances[asset] = b
	}
	return b
}

func insufficient(asset string) error {
	return &APIError{Status: http.StatusBadRequest, Code: -2010, Msg: "insufficient " + asset + " balance"}
}

func (p *PaperGateway) CreateMarketBuy(ctx context.Context, pair string, sizeOrCost float64) (order.Order, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return order.Order{}, err
	}
	book, err := p.data.FetchOrderBook(ctx, pair)
	if err != nil {
		return order.Order{}, err
	}
	ask, ok := book.BestAsk()
	if !ok || ask <= 0 {
		return order.Order{}, fmt.Errorf("paper market buy %s: empty ask side", pair)
	}
	amount, cost := sizeOrCost, sizeOrCost*ask
	if p.usesCost {
		amount, cost = sizeOrCost/ask, sizeOrCost
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	qb := p.balance(quote)
	if qb.Free < cost {
		return order.Order{}, insufficient(quote)
	}
	qb.Free -= cost
	p.balance(base).Free += amount
	o := &order.Order{
		ID:      uuid.NewString(),
		Pair:    pair,
		Side:    order.SideBuy,
		Kind:    order.KindMarket,
		Amount:  amount,
		Average: ask,
		Filled:  amount,
		Status:  order.StatusClosed,
	}
	p.orders[o.ID] = o
	return *o, nil
}

func (p *PaperGateway) CreateLimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	_, quote, err := SplitPair(pair)
	if err != nil {
		return order.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	qb := p.balance(quote)
	cost := amount * price
	if qb.Free < cost {
		return order.Order{}, insufficient(quote)
	}
	qb.Free -= cost
	qb.Locked += cost
	return p.open(pair, order.SideBuy, amount, price), nil
}

func (p *PaperGateway) CreateLimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	base, _, err := SplitPair(pair)
	if err != nil {
		return order.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bb := p.balance(base)
	if bb.Free < amount {
		return order.Order{}, insufficient(base)
	}
	bb.Free -= amount
	bb.Locked += amount
	return p.open(pair, order.SideSell, amount, price), nil
}

func (p *PaperGateway) open(pair string, side order.Side, amount, price float64) order.Order {
	o := &order.Order{
		ID:     uuid.NewString(),
		Pair:   pair,
		Side:   side,
		Kind:   order.KindLimit,
		Price:  price,
		Amount: amount,
		Status: order.StatusOpen,
	}
	p.orders[o.ID] = o
	return *o
}

// FetchOrder 对挂单按最新盘口撮合一次。
func (p *PaperGateway) FetchOrder(ctx context.Context, id, pair string) (order.Order, error) {
	p.mu.Lock()
	o, ok := p.orders[id]
	if !ok {
		p.mu.Unlock()
		return order.Order{}, unknownOrder(id)
	}
	snapshot := *o
	p.mu.Unlock()
	if snapshot.Status != order.StatusOpen {
		return snapshot, nil
	}

	book, err := p.data.FetchOrderBook(ctx, pair)
	if err != nil {
		return snapshot, nil
	}
	crossed := false
	if snapshot.Side == order.SideBuy {
		ask, ok := book.BestAsk()
		crossed = ok && ask <= snapshot.Price
	} else {
		bid, ok := book.BestBid()
		crossed = ok && bid >= snapshot.Price
	}
	if !crossed {
		return snapshot, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if o.Status != order.StatusOpen {
		return *o, nil
	}
	p.settle(o)
	return *o, nil
}

func (p *PaperGateway) settle(o *order.Order) {
	base, quote, _ := SplitPair(o.Pair)
	cost := o.Amount * o.Price
	if o.Side == order.SideBuy {
		p.balance(quote).Locked -= cost
		p.balance(base).Free += o.Amount
	} else {
		p.balance(base).Locked -= o.Amount
		p.balance(quote).Free += cost
	}
	o.Filled = o.Amount
	o.Average = o.Price
	o.Status = order.StatusClosed
}

func unknownOrder(id string) error {
	return &APIError{Status: http.StatusBadRequest, Code: -2011, Msg: "unknown order " + id}
}

func (p *PaperGateway) CancelOrder(ctx context.Context, id, pair string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok || o.Status != order.StatusOpen {
		return unknownOrder(id)
	}
	base, quote, _ := SplitPair(o.Pair)
	if o.Side == order.SideBuy {
		cost := o.Amount * o.Price
		qb := p.balance(quote)
		qb.Locked -= cost
		qb.Free += cost
	} else {
		bb := p.balance(base)
		bb.Locked -= o.Amount
		bb.Free += o.Amount
	}
	o.Status = order.StatusCanceled
	return nil
}

var _ MarketGateway = (*PaperGateway)(nil)
