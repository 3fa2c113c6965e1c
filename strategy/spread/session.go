// Package spread 实现价差会话：在买一之上挂买、卖一之下挂卖，吃宽价差。
package spread

import (
	"context"
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
	"pump-trader-go/order"
	"pump-trader-go/strategy/quote"
)

// SideState 单侧状态。
type SideState string

const (
	SideIdle   SideState = "IDLE"
	SideQuoted SideState = "QUOTED"
)

// DefaultPace 两轮之间的间隔。
const DefaultPace = 100 * time.Millisecond

// Stats 会话期间的挂单与成交次数。
type Stats struct {
	BuysPlaced  int
	BuysFilled  int
	SellsFilled int
}

// Session 单个交易对的价差会话。
type Session struct {
	pair  string
	base  string
	exec  *order_manager.Executor
	store *config.Store
	clk   clock.Clock
	log   *logger.Logger
	slots *order.Manager
	pace  time.Duration

	mu    sync.Mutex
	buy   SideState
	sell  SideState
	stats Stats
}

// New 创建价差会话。
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
		pace:  DefaultPace,
		buy:   SideIdle,
		sell:  SideIdle,
	}, nil
}

// SetPace 调整两轮之间的间隔，需在 Run 之前调用。
func (s *Session) SetPace(d time.Duration) { s.pace = d }

// Sides 当前买卖两侧状态。
func (s *Session) Sides() (buy, sell SideState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buy, s.sell
}

// Stats 统计快照。
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OpenOrders 当前仍挂着的订单 ID。
func (s *Session) OpenOrders() []string {
	return s.slots.OpenIDs()
}

func sideOf(live bool) SideState {
	if live {
		return SideQuoted
	}
	return SideIdle
}

func (s *Session) refresh(buy *quote.BuyLeg, sell *quote.SellLeg) {
	_, buyLive := s.slots.Live(order.SideBuy)
	s.mu.Lock()
	s.buy = sideOf(buyLive)
	s.sell = sideOf(sell.Live())
	s.stats = Stats{BuysPlaced: buy.Placed, BuysFilled: buy.Filled, SellsFilled: sell.Filled}
	s.mu.Unlock()
}

// Run 运行到 MaxDuration 或 ctx 取消。到时限时撤掉全部挂单；被终止时仍挂着的单记入 LeakedOrders。
func (s *Session) Run(ctx context.Context) (out session.Outcome) {
	out = session.Outcome{Pair: s.pair, Kind: session.KindSpread, Started: s.clk.Now()}
	defer func() {
		session.Interrupted(ctx, &out, s.slots.OpenIDs())
		out.Finished = s.clk.Now()
		st := s.Stats()
		s.log.LogSession("finished", s.pair, map[string]interface{}{
			"result":       string(out.Result),
			"buys_placed":  st.BuysPlaced,
			"buys_filled":  st.BuysFilled,
			"sells_filled": st.SellsFilled,
			"leaked":       out.LeakedOrders,
		})
	}()

	prec, err := s.exec.Precision(ctx, s.pair)
	if err != nil {
		out.Result, out.Err = session.ResultAbandoned, fmt.Errorf("precision: %w", err)
		return out
	}
	leg := quote.Leg{Exec: s.exec, Slots: s.slots, Pair: s.pair, Base: s.base, Prec: prec, Log: s.log}
	buy := &quote.BuyLeg{Leg: leg}
	sell := &quote.SellLeg{Leg: leg}

	tu := s.store.Snapshot().Spread
	s.log.LogSession("started", s.pair, map[string]interface{}{
		"usd":            tu.USD,
		"activation_pct": tu.ActivationPct,
		"time_limit":     tu.TimeLimit.String(),
		"max_duration":   tu.MaxDuration.String(),
	})

	for elapsed := time.Duration(0); elapsed < tu.MaxDuration; elapsed = s.clk.Now().Sub(out.Started) {
		if ctx.Err() != nil {
			return out
		}
		tu = s.store.Snapshot().Spread
		buy.USD, buy.ActivationPct, buy.BidGap = tu.USD, tu.ActivationPct, tu.BidGap
		sell.AskGap = tu.AskGap

		if err := s.step(ctx, buy, sell, elapsed < tu.TimeLimit); err != nil {
			return out
		}
		s.refresh(buy, sell)
		if s.clk.Sleep(ctx, s.pace) != nil {
			return out
		}
	}

	// 到时限后两侧挂单都撤掉再结束；撤单中途被终止时由 defer 上报遗留挂单
	if !leg.CancelLive(ctx) {
		return out
	}
	s.refresh(buy, sell)
	out.Result = session.ResultExpired
	return out
}

// step 一轮：同一份盘口快照先给买侧再给卖侧。盘口拿不到就跳过本轮。
func (s *Session) step(ctx context.Context, buy *quote.BuyLeg, sell *quote.SellLeg, canPlace bool) error {
	book, err := s.exec.OrderBookOnce(ctx, s.pair)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Debug("order book unavailable, skipping", zap.String("pair", s.pair), zap.Error(err))
		return nil
	}
	top, err := book.Top()
	if err != nil {
		s.log.Debug("thin book, skipping", zap.String("pair", s.pair))
		return nil
	}
	if err := buy.Step(ctx, top, canPlace); err != nil {
		return err
	}
	if _, err := sell.Step(ctx, top); err != nil {
		return err
	}
	return nil
}
