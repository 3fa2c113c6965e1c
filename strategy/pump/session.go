// Package pump 实现拉盘交易会话：市价买入后挂止盈单，超时降级为部分止盈，最后跟价卖出。
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/internal/session"
	"pump-trader-go/market"
	"pump-trader-go/order"
	"pump-trader-go/strategy/quote"
)

// State 会话状态。
type State string

const (
	StateBuying            State = "BUYING"
	StateAwaitingFill      State = "AWAITING_FILL"
	StateFullTargetWait    State = "FULL_TARGET_WAIT"
	StatePartialTargetWait State = "PARTIAL_TARGET_WAIT"
	StateTrackSell         State = "TRACK_SELL"
	StateDone              State = "DONE"
)

const (
	fillPoll   = 200 * time.Millisecond
	targetPoll = 300 * time.Millisecond
	trackPoll  = 200 * time.Millisecond
)

var errNothingToSell = errors.New("no free balance after buy")

// Session 单个交易对的一次拉盘交易。
type Session struct {
	pair  string
	base  string
	exec  *order_manager.Executor
	store *config.Store
	clk   clock.Clock
	log   *logger.Logger
	slots *order.Manager

	mu      sync.Mutex
	state   State
	onState func(State)

	prec    order.Precision
	buySize float64
	entry   float64
	start   time.Time
}

// New 创建会话，pair 形如 DOGE/USDT。
func New(pair string, exec *order_manager.Executor, store *config.Store, log *logger.Logger) (*Session, error) {
	base, _, err := gateway.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Session{
		pair:  pair,
		base:  base,
		exec:  exec,
		store: store,
		clk:   exec.Clock(),
		log:   log,
		slots: order.NewManager(pair),
	}, nil
}

// OnState 注册状态迁移回调（监控与测试用），需在 Run 之前调用。
func (s *Session) OnState(fn func(State)) { s.onState = fn }

// State 当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.LogSession("state", s.pair, map[string]interface{}{"from": string(prev), "to": string(st)})
	if s.onState != nil {
		s.onState(st)
	}
}

// Run 执行完整会话直到 DONE。正常结束时不留挂单；ctx 取消时返回 killed 并列出遗留挂单。
func (s *Session) Run(ctx context.Context) (out session.Outcome) {
	out = session.Outcome{Pair: s.pair, Kind: session.KindPump, Started: s.clk.Now()}
	defer func() {
		session.Interrupted(ctx, &out, s.slots.OpenIDs())
		out.EntryPrice = s.entry
		out.Finished = s.clk.Now()
		s.setState(StateDone)
		s.log.LogSession("finished", s.pair, map[string]interface{}{
			"result":  string(out.Result),
			"entry":   out.EntryPrice,
			"profit":  out.EstimatedProfit,
			"leaked":  out.LeakedOrders,
			"elapsed": out.Finished.Sub(out.Started).String(),
		})
	}()

	placed, ask, err := s.buy(ctx)
	if err != nil {
		out.Result, out.Err = session.ResultAbandoned, err
		return out
	}
	s.waitFill(ctx, placed, ask)
	if ctx.Err() != nil {
		return out
	}
	res, err := s.targets(ctx)
	if err != nil {
		out.Result, out.Err = session.ResultAbandoned, err
		return out
	}
	if ctx.Err() != nil {
		return out
	}
	tu := s.store.Snapshot().Trade
	switch res {
	case session.ResultTotal:
		out.EstimatedProfit = tu.USD * tu.TotalProfit
	case session.ResultPartial:
		out.EstimatedProfit = tu.USD * tu.PartialProfit
	}
	if res != session.ResultTracked {
		out.Result = res
		return out
	}
	out.Result = s.track(ctx)
	return out
}

// buy BUYING：拉盘口、取精度、市价买入。返回成交回报与下单时的卖一价。
func (s *Session) buy(ctx context.Context) (order.Order, float64, error) {
	s.setState(StateBuying)
	tu := s.store.Snapshot().Trade

	book, err := s.exec.OrderBook(ctx, s.pair)
	if err != nil {
		return order.Order{}, 0, fmt.Errorf("order book: %w", err)
	}
	ask, ok := book.BestAsk()
	if !ok {
		return order.Order{}, 0, fmt.Errorf("order book: %w", market.ErrThinBook)
	}
	bids, asks := book.Depth(5)
	s.log.Info("entry book",
		zap.String("pair", s.pair),
		zap.Any("bids", bids),
		zap.Any("asks", asks),
		zap.Float64("slippage", tu.Slippage))

	prec, err := s.exec.Precision(ctx, s.pair)
	if err != nil {
		return order.Order{}, 0, fmt.Errorf("precision: %w", err)
	}
	s.prec = prec

	o, size, err := s.exec.MarketBuy(ctx, s.pair, tu.USD, ask, prec)
	if err != nil {
		return order.Order{}, 0, fmt.Errorf("market buy: %w", err)
	}
	s.start = s.clk.Now()
	s.buySize = size
	s.trackOrder(o)
	return o, ask, nil
}

func (s *Session) trackOrder(o order.Order) {
	if err := s.slots.Track(o); err != nil {
		s.log.Error("track order failed",
			zap.String("pair", s.pair),
			zap.String("side", string(o.Side)),
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
}

// settleBuy 买单进入终态后释放买侧；已成交回报的单从未登记，忽略 ErrUnknownOrder。
func (s *Session) settleBuy(st order.Status) {
	if err := s.slots.Update(order.SideBuy, st); err != nil && !errors.Is(err, order.ErrUnknownOrder) {
		s.log.Warn("buy slot update rejected", zap.String("pair", s.pair), zap.Error(err))
	}
}

// waitFill AWAITING_FILL：以下单回报为起点，未到终态时在 FillTimeout 内轮询；
// 被拒时按原数量重下一次。超时仍未终结的买单会被撤掉，撤单回报若已成交则以其均价为准。
// 均价缺失时依次退回到委托价、下单前的卖一价。
func (s *Session) waitFill(ctx context.Context, placed order.Order, ask float64) {
	s.setState(StateAwaitingFill)
	tu := s.store.Snapshot().Trade

	info := placed
	resubmitted := false
	deadline := s.start.Add(tu.FillTimeout)

	for !info.Status.Terminal() && !s.clk.Now().After(deadline) {
		got := s.exec.Lookup(ctx, info.ID, s.pair)
		if ctx.Err() != nil {
			return
		}
		if got.Status != order.StatusUnknown {
			info = got
		}
		switch info.Status {
		case order.StatusClosed, order.StatusCanceled:
			s.settleBuy(info.Status)
		case order.StatusRejected:
			s.settleBuy(order.StatusRejected)
			if !resubmitted {
				resubmitted = true
				s.log.Warn("market buy rejected after acceptance, resubmitting",
					zap.String("pair", s.pair),
					zap.Float64("size", s.buySize))
				o, err := s.exec.ResubmitMarketBuy(ctx, s.pair, s.buySize)
				if err != nil {
					s.log.Error("market buy resubmit failed", zap.String("pair", s.pair), zap.Error(err))
				} else {
					info = o
					s.trackOrder(o)
				}
			}
		}
		if info.Status.Terminal() {
			break
		}
		if s.clk.Sleep(ctx, fillPoll) != nil {
			return
		}
	}

	if _, live := s.slots.Live(order.SideBuy); live {
		final, err := s.exec.Cancel(ctx, info.ID, s.pair)
		if err != nil {
			return
		}
		s.settleBuy(final.Status)
		if final.Status == order.StatusClosed {
			info = final
		}
	}

	s.entry = info.FillPrice()
	if s.entry <= 0 {
		s.entry = ask
	}
	s.log.LogTrade("entry", map[string]interface{}{
		"pair": s.pair, "price": s.entry, "ask": ask, "status": string(info.Status), "order_id": info.ID,
	})
}

// placeTarget 以当前全部可用余额挂止盈卖单。
func (s *Session) placeTarget(ctx context.Context, fraction float64) (order.Order, error) {
	free, err := s.exec.FreeBalance(ctx, s.base)
	if err != nil {
		return order.Order{}, err
	}
	amount := s.prec.TruncateAmount(free)
	if amount <= 0 {
		return order.Order{}, errNothingToSell
	}
	price := s.prec.RoundPrice(s.entry * (1 + fraction))
	o, err := s.exec.LimitSell(ctx, s.pair, amount, price)
	if err != nil {
		return order.Order{}, err
	}
	s.trackOrder(o)
	return o, nil
}

// cancelSell 撤掉当前止盈单；返回撤单后观察到的状态。
func (s *Session) cancelSell(ctx context.Context, o order.Order) (order.Status, error) {
	final, err := s.exec.Cancel(ctx, o.ID, s.pair)
	if err != nil {
		return order.StatusUnknown, err
	}
	s.slots.Update(order.SideSell, final.Status)
	return final.Status, nil
}

// targets FULL_TARGET_WAIT 与 PARTIAL_TARGET_WAIT。
// 返回 total/partial 表示止盈成交，tracked 表示需要进入跟价卖出。
// 每轮先判断总超时，再判断部分止盈计时，因此总时限短于部分时限时不会进入部分止盈。
func (s *Session) targets(ctx context.Context) (session.Result, error) {
	s.setState(StateFullTargetWait)
	tu := s.store.Snapshot().Trade
	sell, err := s.placeTarget(ctx, tu.TotalProfit)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return "", err
	}

	label := session.ResultTotal
	var partialStart time.Time

	for {
		tu = s.store.Snapshot().Trade
		info := s.exec.Lookup(ctx, sell.ID, s.pair)
		if ctx.Err() != nil {
			return "", nil
		}
		switch {
		case info.Status == order.StatusClosed:
			s.slots.Update(order.SideSell, order.StatusClosed)
			return label, nil
		case info.Status.Terminal():
			s.slots.Update(order.SideSell, info.Status)
			s.log.Warn("target sell ended without fill", zap.String("pair", s.pair), zap.String("status", string(info.Status)))
			return session.ResultTracked, nil
		}

		now := s.clk.Now()
		if now.Sub(s.start) > tu.TimeLimitTotal {
			st, err := s.cancelSell(ctx, sell)
			if err != nil {
				return "", nil
			}
			if st == order.StatusClosed {
				return label, nil
			}
			return session.ResultTracked, nil
		}

		if label == session.ResultTotal {
			if partialStart.IsZero() {
				if last, ok := s.exec.LastPrice(ctx, s.pair); ok && last/s.entry-1 > tu.MinUpStart {
					partialStart = now
					s.log.LogSession("partial_timer_started", s.pair, map[string]interface{}{"last": last})
				}
			}
			if !partialStart.IsZero() && now.Sub(partialStart) > tu.TimeLimitPartial {
				st, err := s.cancelSell(ctx, sell)
				if err != nil {
					return "", nil
				}
				if st == order.StatusClosed {
					return label, nil
				}
				s.setState(StatePartialTargetWait)
				label = session.ResultPartial
				if sell, err = s.placeTarget(ctx, tu.PartialProfit); err != nil {
					if ctx.Err() != nil {
						return "", nil
					}
					return "", err
				}
			}
		}

		if s.clk.Sleep(ctx, targetPoll) != nil {
			return "", nil
		}
	}
}

// track TRACK_SELL：跟价卖出，卖完或达到 TrackMax 为止。
func (s *Session) track(ctx context.Context) session.Result {
	s.setState(StateTrackSell)
	tu := s.store.Snapshot()
	leg := &quote.SellLeg{
		Leg: quote.Leg{
			Exec:  s.exec,
			Slots: s.slots,
			Pair:  s.pair,
			Base:  s.base,
			Prec:  s.prec,
			Log:   s.log,
		},
		AskGap: tu.Spread.AskGap,
	}
	begin := s.clk.Now()
	for s.clk.Now().Sub(begin) < tu.Trade.TrackMax {
		if ctx.Err() != nil {
			return session.ResultKilled
		}
		book, err := s.exec.OrderBookOnce(ctx, s.pair)
		if err == nil {
			top, err := book.Top()
			if err == nil {
				leg.AskGap = s.store.Snapshot().Spread.AskGap
				free, err := leg.Step(ctx, top)
				if err != nil {
					return session.ResultKilled
				}
				if !leg.Live() && !s.prec.Tradeable(free) {
					return session.ResultTracked
				}
			}
		}
		if s.clk.Sleep(ctx, trackPoll) != nil {
			return session.ResultKilled
		}
	}
	// 到时限后撤掉剩余卖单再离开 TRACK_SELL；撤单中途被终止时由 Run 上报遗留挂单
	if !leg.CancelLive(ctx) {
		return session.ResultKilled
	}
	return session.ResultExpired
}

// OpenOrders 当前仍挂着的订单 ID。
func (s *Session) OpenOrders() []string {
	return s.slots.OpenIDs()
}
