// Package dispatcher 消费异动队列：转发通知，并按自动买入策略触发交易会话。
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/scanner"
)

// DefaultInterval 队列轮询间隔。
const DefaultInterval = 200 * time.Millisecond

// Buyer 启动一个拉盘交易会话，调用方不等待其结束。
type Buyer interface {
	Buy(pair, source string)
}

// Decision 自动买入决定，随事件一起交给通知方。
type Decision struct {
	Buy    bool
	Reason string
}

// Notifier 接收每一个被取出的事件，不论是否买入。
type Notifier interface {
	NotifyAnomaly(ev scanner.AnomalyEvent, d Decision)
}

// Dispatcher 异动分发器。
type Dispatcher struct {
	queue    *scanner.Queue
	policy   *AutoBuyPolicy
	buyer    Buyer
	notifier Notifier
	clk      clock.Clock
	log      *logger.Logger
	interval time.Duration
}

// New 创建分发器；notifier 可为 nil。
func New(queue *scanner.Queue, policy *AutoBuyPolicy, buyer Buyer, notifier Notifier, clk clock.Clock, log *logger.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		policy:   policy,
		buyer:    buyer,
		notifier: notifier,
		clk:      clk,
		log:      log,
		interval: DefaultInterval,
	}
}

// SetNotifier 替换通知方。
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier = n }

// Run 周期性及在队列就绪时清空队列，直到 ctx 结束。
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.queue.Ready():
		case <-ticker.C:
		}
		d.DrainOnce()
	}
}

// DrainOnce 非阻塞地处理当前队列里的全部事件，返回处理数量。
func (d *Dispatcher) DrainOnce() int {
	events := d.queue.Drain()
	for _, ev := range events {
		buy, reason := d.policy.Decide(ev, d.clk.Now())
		if buy {
			d.log.Info("auto buy triggered",
				zap.String("symbol", ev.Symbol),
				zap.String("reason", reason))
			d.buyer.Buy(ev.Symbol, reason)
		}
		if d.notifier != nil {
			d.notifier.NotifyAnomaly(ev, Decision{Buy: buy, Reason: reason})
		}
	}
	return len(events)
}
