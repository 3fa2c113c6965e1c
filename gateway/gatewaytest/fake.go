// Package gatewaytest 提供可编排的内存网关，供会话与执行器测试使用。
package gatewaytest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"pump-trader-go/gateway"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

// Fake 内存网关。默认行为：市价单按卖一价立即成交；限价单保持 open，
// 直到测试调用 Fill 或在 OnFetchOrder 中改写；撤单把挂单置为 canceled 并退回冻结资金。
// 各 On* 钩子返回非 nil error 时模拟调用失败。
type Fake struct {
	mu sync.Mutex

	UsesCost bool
	Prec     order.Precision
	Book     market.OrderBook
	Last     *float64
	Tickers  map[string]gateway.Ticker
	Balances map[string]gateway.Balance

	// MarketPending 为 true 时市价单回报为 open（资金已划转），由 OnFetchOrder 决定后续状态。
	MarketPending bool

	OnOrderBook  func(call int) (market.OrderBook, error)
	OnMarketBuy  func(call int, sizeOrCost float64) error
	OnLimitBuy   func(call int, amount, price float64) error
	OnLimitSell  func(call int, amount, price float64) error
	OnCancel     func(call int, o *order.Order) error
	OnFetchOrder func(call int, o *order.Order) error
	OnTickers    func(call int) (map[string]gateway.Ticker, error)

	orders  []*order.Order
	calls   map[string]int
	maxOpen map[order.Side]int
	seq     int
}

// New 创建带默认精度的 Fake。
func New() *Fake {
	return &Fake{
		UsesCost: true,
		Prec:     order.Precision{PriceStep: 0.01, AmountStep: 0.01, MinAmount: 0.01},
		Balances: map[string]gateway.Balance{"USDT": {Free: 1000}},
		calls:    map[string]int{},
		maxOpen:  map[order.Side]int{},
	}
}

func (f *Fake) count(op string) int {
	f.calls[op]++
	return f.calls[op]
}

// Calls 某操作被调用的次数。
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// SetBook 替换盘口。
func (f *Fake) SetBook(book market.OrderBook) {
	f.mu.Lock()
	f.Book = book
	f.mu.Unlock()
}

// SetLast 设置最新成交价。
func (f *Fake) SetLast(v float64) {
	f.mu.Lock()
	f.Last = &v
	f.mu.Unlock()
}

// Orders 返回所有下过的订单副本，按下单顺序。
func (f *Fake) Orders() []order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]order.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out
}

// OpenOrders 某方向当前 open 的订单数。
func (f *Fake) OpenOrders(side order.Side) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLocked(side)
}

// Fill 让一个挂单完全成交。
func (f *Fake) Fill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o := f.find(id); o != nil && o.Status == order.StatusOpen {
		f.settle(o)
	}
}

// FillOpen 让某方向所有挂单成交。
func (f *Fake) FillOpen(side order.Side) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.Side == side && o.Status == order.StatusOpen {
			f.settle(o)
		}
	}
}

func (f *Fake) find(id string) *order.Order {
	for _, o := range f.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (f *Fake) adjust(asset string, free, locked float64) {
	b := f.Balances[asset]
	b.Free += free
	b.Locked += locked
	f.Balances[asset] = b
}

func (f *Fake) settle(o *order.Order) {
	base, quote, _ := gateway.SplitPair(o.Pair)
	if o.Side == order.SideBuy {
		f.adjust(quote, 0, -o.Amount*o.Price)
		f.adjust(base, o.Amount, 0)
	} else {
		f.adjust(base, 0, -o.Amount)
		f.adjust(quote, o.Amount*o.Price, 0)
	}
	o.Filled = o.Amount
	o.Average = o.Price
	o.Status = order.StatusClosed
}

func (f *Fake) newID() string {
	f.seq++
	return strconv.Itoa(f.seq)
}

// Rejected 模拟交易所拒单错误。
func Rejected() error {
	return &gateway.APIError{Status: http.StatusBadRequest, Code: -2010, Msg: "rejected"}
}

// Unavailable 模拟瞬时错误。
func Unavailable() error {
	return &gateway.APIError{Status: http.StatusServiceUnavailable, Msg: "unavailable"}
}

func (f *Fake) Name() string            { return "fake" }
func (f *Fake) MarketBuyUsesCost() bool { return f.UsesCost }

func (f *Fake) FetchTickers(ctx context.Context) (map[string]gateway.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("tickers")
	if f.OnTickers != nil {
		return f.OnTickers(n)
	}
	return f.Tickers, nil
}

func (f *Fake) FetchTicker(ctx context.Context, pair string) (gateway.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ticker")
	return gateway.Ticker{Symbol: pair, Last: f.Last}, nil
}

func (f *Fake) FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("order_book")
	if f.OnOrderBook != nil {
		return f.OnOrderBook(n)
	}
	return f.Book, nil
}

func (f *Fake) FetchBalance(ctx context.Context) (map[string]gateway.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("balance")
	out := make(map[string]gateway.Balance, len(f.Balances))
	for k, v := range f.Balances {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) FetchOrder(ctx context.Context, id, pair string) (order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("fetch_order")
	o := f.find(id)
	if o == nil {
		return order.Order{}, fmt.Errorf("unknown order %s", id)
	}
	if f.OnFetchOrder != nil {
		if err := f.OnFetchOrder(n, o); err != nil {
			return order.Order{}, err
		}
	}
	return *o, nil
}

func (f *Fake) CreateMarketBuy(ctx context.Context, pair string, sizeOrCost float64) (order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("market_buy")
	if f.OnMarketBuy != nil {
		if err := f.OnMarketBuy(n, sizeOrCost); err != nil {
			return order.Order{}, err
		}
	}
	ask := 0.0
	if len(f.Book.Asks) > 0 {
		ask = f.Book.Asks[0].Price
	}
	if ask <= 0 {
		return order.Order{}, Unavailable()
	}
	amount := sizeOrCost
	if f.UsesCost {
		amount = sizeOrCost / ask
	}
	base, quote, _ := gateway.SplitPair(pair)
	f.adjust(quote, -amount*ask, 0)
	f.adjust(base, amount, 0)
	o := &order.Order{
		ID: f.newID(), Pair: pair, Side: order.SideBuy, Kind: order.KindMarket,
		Amount: amount, Filled: amount, Average: ask, Status: order.StatusClosed,
	}
	if f.MarketPending {
		o.Status = order.StatusOpen
	}
	f.orders = append(f.orders, o)
	return *o, nil
}

func (f *Fake) CreateLimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("limit_buy")
	if f.OnLimitBuy != nil {
		if err := f.OnLimitBuy(n, amount, price); err != nil {
			return order.Order{}, err
		}
	}
	_, quote, _ := gateway.SplitPair(pair)
	f.adjust(quote, -amount*price, amount*price)
	return f.open(pair, order.SideBuy, amount, price), nil
}

func (f *Fake) CreateLimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("limit_sell")
	if f.OnLimitSell != nil {
		if err := f.OnLimitSell(n, amount, price); err != nil {
			return order.Order{}, err
		}
	}
	base, _, _ := gateway.SplitPair(pair)
	if f.Balances[base].Free+1e-12 < amount {
		return order.Order{}, Rejected()
	}
	f.adjust(base, -amount, amount)
	return f.open(pair, order.SideSell, amount, price), nil
}

func (f *Fake) open(pair string, side order.Side, amount, price float64) order.Order {
	o := &order.Order{
		ID: f.newID(), Pair: pair, Side: side, Kind: order.KindLimit,
		Price: price, Amount: amount, Status: order.StatusOpen,
	}
	f.orders = append(f.orders, o)
	if n := f.openLocked(side); n > f.maxOpen[side] {
		f.maxOpen[side] = n
	}
	return *o
}

func (f *Fake) openLocked(side order.Side) int {
	n := 0
	for _, o := range f.orders {
		if o.Side == side && o.Status == order.StatusOpen {
			n++
		}
	}
	return n
}

// MaxOpen 测试过程中某方向同时 open 的最大挂单数。
func (f *Fake) MaxOpen(side order.Side) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen[side]
}

func (f *Fake) CancelOrder(ctx context.Context, id, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.count("cancel")
	o := f.find(id)
	if o == nil {
		return fmt.Errorf("unknown order %s", id)
	}
	if f.OnCancel != nil {
		if err := f.OnCancel(n, o); err != nil {
			return err
		}
	}
	if o.Status != order.StatusOpen {
		return fmt.Errorf("order %s is %s", id, o.Status)
	}
	base, quote, _ := gateway.SplitPair(o.Pair)
	if o.Side == order.SideBuy {
		f.adjust(quote, o.Amount*o.Price, -o.Amount*o.Price)
	} else {
		f.adjust(base, o.Amount, -o.Amount)
	}
	o.Status = order.StatusCanceled
	return nil
}

func (f *Fake) Precision(ctx context.Context, pair string) (order.Precision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("precision")
	return f.Prec, nil
}

// Settle 在钩子内部使用（已持有锁）：让订单成交。
func (f *Fake) Settle(o *order.Order) {
	if o.Status == order.StatusOpen {
		f.settle(o)
	}
}

// TwoLevelBook 构造两档盘口。
func TwoLevelBook(pair string, bid1, bid2, ask1, ask2 float64) market.OrderBook {
	return market.OrderBook{
		Pair: pair,
		Bids: []market.Level{{Price: bid1, Volume: 100}, {Price: bid2, Volume: 100}},
		Asks: []market.Level{{Price: ask1, Volume: 100}, {Price: ask2, Volume: 100}},
	}
}

var _ gateway.MarketGateway = (*Fake)(nil)
