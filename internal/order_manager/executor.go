package order_manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

// errRejected 交易所受理了请求但订单状态为 rejected。
var errRejected = errors.New("order rejected")

// Policies 按操作类型区分的重试策略。
type Policies struct {
	OrderBook Policy
	MarketBuy Policy
	Resubmit  Policy
	Lookup    Policy
	Precision Policy
	LimitBuy  Policy
	LimitSell Policy
	Cancel    Policy
	Balance   Policy
}

// DefaultPolicies 入场与查询有限重试，离场（卖出、撤单、查余额）无限重试。
func DefaultPolicies() Policies {
	return Policies{
		OrderBook: Bounded(10),
		MarketBuy: Bounded(10),
		Resubmit:  Bounded(1),
		Lookup:    Bounded(10),
		Precision: Bounded(10),
		LimitBuy:  Bounded(3),
		LimitSell: Unbounded(),
		Cancel:    Unbounded(),
		Balance:   Unbounded(),
	}
}

// Recorder 接收重试与下单事件，监控层实现它。
type Recorder interface {
	ObserveRetry(op string)
	ObserveOrder(side order.Side, event string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRetry(string)             {}
func (nopRecorder) ObserveOrder(order.Side, string) {}

// Executor 把网关调用包进各自的重试策略，会话只通过它下单和查询。
type Executor struct {
	gw       gateway.MarketGateway
	clk      clock.Clock
	log      *logger.Logger
	rec      Recorder
	policies Policies
}

// NewExecutor 创建执行器；rec 可为 nil。
func NewExecutor(gw gateway.MarketGateway, clk clock.Clock, log *logger.Logger, rec Recorder) *Executor {
	if clk == nil {
		clk = clock.Real
	}
	if log == nil {
		log = logger.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Executor{gw: gw, clk: clk, log: log, rec: rec, policies: DefaultPolicies()}
}

// WithPolicies 替换重试策略。
func (e *Executor) WithPolicies(p Policies) *Executor {
	e.policies = p
	return e
}

func (e *Executor) Gateway() gateway.MarketGateway { return e.gw }
func (e *Executor) Clock() clock.Clock             { return e.clk }

func (e *Executor) retry(ctx context.Context, p Policy, op, pair string, fn func(attempt int) error) error {
	return Retry(ctx, e.clk, p, op, func(attempt int) error {
		err := fn(attempt)
		if err != nil {
			e.rec.ObserveRetry(op)
			e.log.Warn("gateway call failed",
				zap.String("op", op),
				zap.String("pair", pair),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
}

// OrderBook 有限重试拉取盘口。
func (e *Executor) OrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	var book market.OrderBook
	err := e.retry(ctx, e.policies.OrderBook, "fetch_order_book", pair, func(int) error {
		var err error
		book, err = e.gw.FetchOrderBook(ctx, pair)
		return err
	})
	return book, err
}

// OrderBookOnce 单次拉取，失败由调用方跳过本轮。
func (e *Executor) OrderBookOnce(ctx context.Context, pair string) (market.OrderBook, error) {
	return e.gw.FetchOrderBook(ctx, pair)
}

// LastPrice 单次拉取最新成交价；无价格时第二个返回值为 false。
func (e *Executor) LastPrice(ctx context.Context, pair string) (float64, bool) {
	t, err := e.gw.FetchTicker(ctx, pair)
	if err != nil || t.Last == nil {
		return 0, false
	}
	return *t.Last, true
}

// Precision 有限重试获取交易对精度。
func (e *Executor) Precision(ctx context.Context, pair string) (order.Precision, error) {
	var p order.Precision
	err := e.retry(ctx, e.policies.Precision, "precision", pair, func(int) error {
		var err error
		p, err = e.gw.Precision(ctx, pair)
		return err
	})
	return p, err
}

// MarketBuy 按美元名义市价买入。成本计价的交易所直接传 usd，
// 否则按 refPrice 换算数量。被拒绝时按 30% 缩量后重试，瞬时错误原量重试。
// 第二个返回值是最终被接受的下单数量（成本计价时为金额）。
func (e *Executor) MarketBuy(ctx context.Context, pair string, usd, refPrice float64, prec order.Precision) (order.Order, float64, error) {
	usesCost := e.gw.MarketBuyUsesCost()
	size := usd
	if !usesCost {
		size = prec.TokenAmount(usd, refPrice)
	}
	var placed order.Order
	err := e.retry(ctx, e.policies.MarketBuy, "market_buy", pair, func(int) error {
		if size <= 0 {
			return fmt.Errorf("market buy size shrank to zero")
		}
		o, err := e.gw.CreateMarketBuy(ctx, pair, size)
		if err == nil && o.Status == order.StatusRejected {
			err = errRejected
		}
		if err != nil {
			e.rec.ObserveOrder(order.SideBuy, "rejected")
			if errors.Is(err, errRejected) || !gateway.IsTransient(err) {
				if usesCost {
					size = order.ShrinkCost(size)
				} else {
					size = prec.ShrinkAmount(size)
				}
			}
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return order.Order{}, 0, err
	}
	e.rec.ObserveOrder(order.SideBuy, "placed")
	e.log.LogOrder("market_buy_placed", placed.ID, map[string]interface{}{
		"pair": pair, "size": size, "cost_denominated": usesCost,
	})
	return placed, size, nil
}

// ResubmitMarketBuy 按原数量重下市价买单，不缩量，次数由 Resubmit 策略决定（默认一次）。
func (e *Executor) ResubmitMarketBuy(ctx context.Context, pair string, size float64) (order.Order, error) {
	var placed order.Order
	err := e.retry(ctx, e.policies.Resubmit, "market_buy_resubmit", pair, func(int) error {
		o, err := e.gw.CreateMarketBuy(ctx, pair, size)
		if err == nil && o.Status == order.StatusRejected {
			err = errRejected
		}
		if err != nil {
			e.rec.ObserveOrder(order.SideBuy, "rejected")
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	e.rec.ObserveOrder(order.SideBuy, "placed")
	e.log.LogOrder("market_buy_resubmitted", placed.ID, map[string]interface{}{"pair": pair, "size": size})
	return placed, nil
}

// Lookup 有限重试查询订单；耗尽时返回状态 unknown。
func (e *Executor) Lookup(ctx context.Context, id, pair string) order.Order {
	var o order.Order
	err := e.retry(ctx, e.policies.Lookup, "fetch_order", pair, func(int) error {
		var err error
		o, err = e.gw.FetchOrder(ctx, id, pair)
		return err
	})
	if err != nil {
		return order.Order{ID: id, Pair: pair, Status: order.StatusUnknown}
	}
	return o
}

// LimitBuy 有限重试挂买单。
func (e *Executor) LimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	return e.limit(ctx, e.policies.LimitBuy, order.SideBuy, pair, amount, price)
}

// LimitSell 无限重试挂卖单，只有 ctx 结束才返回错误。
func (e *Executor) LimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	return e.limit(ctx, e.policies.LimitSell, order.SideSell, pair, amount, price)
}

func (e *Executor) limit(ctx context.Context, p Policy, side order.Side, pair string, amount, price float64) (order.Order, error) {
	create := e.gw.CreateLimitBuy
	if side == order.SideSell {
		create = e.gw.CreateLimitSell
	}
	var placed order.Order
	err := e.retry(ctx, p, "limit_"+string(side), pair, func(int) error {
		o, err := create(ctx, pair, amount, price)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	e.rec.ObserveOrder(side, "placed")
	e.log.LogOrder("limit_placed", placed.ID, map[string]interface{}{
		"pair": pair, "side": string(side), "amount": amount, "price": price,
	})
	return placed, nil
}

// Cancel 撤单直到成功；撤单失败时先查一次订单，已是终态则直接返回该状态。
// 返回值为撤单后观察到的订单，状态可能是 closed（撤单前已成交）。
func (e *Executor) Cancel(ctx context.Context, id, pair string) (order.Order, error) {
	var final order.Order
	err := e.retry(ctx, e.policies.Cancel, "cancel_order", pair, func(int) error {
		cancelErr := e.gw.CancelOrder(ctx, id, pair)
		o, lookupErr := e.gw.FetchOrder(ctx, id, pair)
		if lookupErr == nil && o.Status.Terminal() {
			final = o
			return nil
		}
		if cancelErr != nil {
			return cancelErr
		}
		if lookupErr != nil {
			// 撤单已受理但查不到结果，按已撤处理
			final = order.Order{ID: id, Pair: pair, Status: order.StatusCanceled}
			return nil
		}
		return fmt.Errorf("order %s still %s after cancel", id, o.Status)
	})
	if err != nil {
		return order.Order{ID: id, Pair: pair, Status: order.StatusUnknown}, err
	}
	if final.Status == order.StatusCanceled {
		e.rec.ObserveOrder(final.Side, "canceled")
	}
	e.log.LogOrder("cancel_done", id, map[string]interface{}{"pair": pair, "status": string(final.Status)})
	return final, nil
}

// FreeBalance 无限重试查询某资产可用余额。
func (e *Executor) FreeBalance(ctx context.Context, asset string) (float64, error) {
	var free float64
	err := e.retry(ctx, e.policies.Balance, "fetch_balance", asset, func(int) error {
		b, err := e.gw.FetchBalance(ctx)
		if err != nil {
			return err
		}
		free = b[asset].Free
		return nil
	})
	return free, err
}
