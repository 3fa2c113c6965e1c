// Package quote 维护单侧跟价挂单：卖单压在卖一之下，买单抬在买一之上。
// 拉盘会话的 TRACK_SELL 与价差会话共用这两条腿。
package quote

import (
	"context"

	"go.uber.org/zap"

	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/market"
	"pump-trader-go/order"
)

// Leg 两条腿共享的依赖。
type Leg struct {
	Exec  *order_manager.Executor
	Slots *order.Manager
	Pair  string
	Base  string
	Prec  order.Precision
	Log   *logger.Logger
}

// release 根据撤单或查询结果释放该方向的挂单位。
func (l Leg) release(side order.Side, st order.Status) {
	if err := l.Slots.Update(side, st); err != nil {
		l.Log.Warn("order slot update rejected",
			zap.String("pair", l.Pair),
			zap.String("side", string(side)),
			zap.String("status", string(st)),
			zap.Error(err))
	}
}

// cancel 撤掉该方向的挂单；返回 false 表示 ctx 已结束，挂单可能仍在交易所上。
func (l Leg) cancel(ctx context.Context, live order.Order) bool {
	final, err := l.Exec.Cancel(ctx, live.ID, l.Pair)
	if err != nil {
		return false
	}
	if final.Status == order.StatusClosed {
		l.Log.LogTrade("filled_before_cancel", map[string]interface{}{
			"pair": l.Pair, "side": string(live.Side), "price": live.Price,
		})
	}
	l.release(live.Side, final.Status)
	return true
}

// CancelLive 撤掉两侧仍挂着的单，撤单无限重试；返回 false 表示 ctx 已结束，剩余挂单仍在交易所上。
func (l Leg) CancelLive(ctx context.Context) bool {
	for _, side := range []order.Side{order.SideBuy, order.SideSell} {
		live, ok := l.Slots.Live(side)
		if !ok {
			continue
		}
		if !l.cancel(ctx, live) {
			return false
		}
	}
	return true
}

// SellLeg 卖出侧。
type SellLeg struct {
	Leg
	AskGap float64
	Filled int
}

// Step 执行一轮卖出侧维护，返回本轮结束时的可用余额。
// 只有 ctx 结束时才返回错误。
func (l *SellLeg) Step(ctx context.Context, top market.Top) (float64, error) {
	free, err := l.Exec.FreeBalance(ctx, l.Base)
	if err != nil {
		return 0, err
	}
	ref := top.BestAsk

	if live, ok := l.Slots.Live(order.SideSell); ok {
		info := l.Exec.Lookup(ctx, live.ID, l.Pair)
		switch {
		case info.Status == order.StatusClosed:
			l.Filled++
			l.Log.LogTrade("sell_filled", map[string]interface{}{"pair": l.Pair, "price": live.Price, "amount": live.Amount})
			l.release(order.SideSell, order.StatusClosed)
		case info.Status.Terminal():
			l.release(order.SideSell, info.Status)
		case top.BestAsk < live.Price || l.Prec.Tradeable(free):
			// 被压价，或又有新币到账需要合并挂出
			if !l.cancel(ctx, live) {
				return free, ctx.Err()
			}
			if free, err = l.Exec.FreeBalance(ctx, l.Base); err != nil {
				return 0, err
			}
		case top.AskGap() > l.AskGap:
			if !l.cancel(ctx, live) {
				return free, ctx.Err()
			}
			ref = top.SecondAsk
			if free, err = l.Exec.FreeBalance(ctx, l.Base); err != nil {
				return 0, err
			}
		}
	}

	if _, ok := l.Slots.Live(order.SideSell); !ok && l.Prec.Tradeable(free) {
		price := l.Prec.RoundPrice(ref - l.Prec.PriceStep)
		amount := l.Prec.TruncateAmount(free)
		o, err := l.Exec.LimitSell(ctx, l.Pair, amount, price)
		if err != nil {
			return free, err
		}
		if err := l.Slots.Track(o); err != nil {
			l.Log.Error("track sell order failed", zap.String("pair", l.Pair), zap.Error(err))
		}
		free -= amount
	}
	return free, nil
}

// Live 是否有卖单挂着。
func (l *SellLeg) Live() bool {
	_, ok := l.Slots.Live(order.SideSell)
	return ok
}

// BuyLeg 买入侧，只在价差足够大时工作。
type BuyLeg struct {
	Leg
	USD           float64
	ActivationPct float64
	BidGap        float64
	Placed        int
	Filled        int
}

// Step 执行一轮买入侧维护；canPlace 为 false 时只管理已有挂单，不再新挂。
func (l *BuyLeg) Step(ctx context.Context, top market.Top, canPlace bool) error {
	if top.SpreadPct() <= l.ActivationPct {
		return nil
	}
	ref := top.BestBid

	if live, ok := l.Slots.Live(order.SideBuy); ok {
		info := l.Exec.Lookup(ctx, live.ID, l.Pair)
		switch {
		case info.Status == order.StatusClosed:
			l.Filled++
			l.Log.LogTrade("buy_filled", map[string]interface{}{"pair": l.Pair, "price": live.Price, "amount": live.Amount})
			l.release(order.SideBuy, order.StatusClosed)
		case info.Status.Terminal():
			l.release(order.SideBuy, info.Status)
		case top.BestBid > live.Price:
			if !l.cancel(ctx, live) {
				return ctx.Err()
			}
		case top.BidGap() > l.BidGap:
			if !l.cancel(ctx, live) {
				return ctx.Err()
			}
			ref = top.SecondBid
		}
	}

	if _, ok := l.Slots.Live(order.SideBuy); ok || !canPlace {
		return nil
	}
	price := l.Prec.RoundPrice(ref + l.Prec.PriceStep)
	amount := l.Prec.TokenAmount(l.USD, price)
	if amount <= 0 {
		return nil
	}
	o, err := l.Exec.LimitBuy(ctx, l.Pair, amount, price)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Log.Warn("limit buy gave up", zap.String("pair", l.Pair), zap.Error(err))
		return nil
	}
	if err := l.Slots.Track(o); err != nil {
		l.Log.Error("track buy order failed", zap.String("pair", l.Pair), zap.Error(err))
		return nil
	}
	l.Placed++
	return nil
}
