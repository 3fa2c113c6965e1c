package recorder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/market"
)

const (
	DefaultInterval = time.Second
	DefaultDuration = 200 * time.Second
	DefaultDepth    = 5
)

// BookSource 盘口来源。
type BookSource interface {
	FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error)
}

// Recorder 在买入后按固定间隔采样盘口。采样失败只记日志，不影响交易会话。
type Recorder struct {
	store    *Store
	src      BookSource
	clk      clock.Clock
	log      *logger.Logger
	Interval time.Duration
	Duration time.Duration
	Depth    int
}

// New 创建 Recorder。
func New(store *Store, src BookSource, clk clock.Clock, log *logger.Logger) *Recorder {
	if clk == nil {
		clk = clock.Real
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Recorder{
		store:    store,
		src:      src,
		clk:      clk,
		log:      log.Named("recorder"),
		Interval: DefaultInterval,
		Duration: DefaultDuration,
		Depth:    DefaultDepth,
	}
}

// Record 阻塞采样 pair 的盘口直到 Duration 结束或 ctx 取消，返回成功写入的条数。
func (r *Recorder) Record(ctx context.Context, pair string) int {
	start := r.clk.Now()
	saved := 0
	for r.clk.Now().Sub(start) < r.Duration {
		if ctx.Err() != nil {
			break
		}
		if r.sample(ctx, pair) {
			saved++
		}
		if r.clk.Sleep(ctx, r.Interval) != nil {
			break
		}
	}
	r.log.Info("snapshot recording finished", zap.String("pair", pair), zap.Int("saved", saved))
	return saved
}

func (r *Recorder) sample(ctx context.Context, pair string) bool {
	book, err := r.src.FetchOrderBook(ctx, pair)
	if err != nil {
		r.log.Warn("snapshot fetch failed", zap.String("pair", pair), zap.Error(err))
		return false
	}
	bids, asks := book.Depth(r.Depth)
	err = r.store.SaveSnapshot(ctx, Snapshot{Pair: pair, At: r.clk.Now(), Bids: bids, Asks: asks})
	if err != nil {
		r.log.Warn("snapshot save failed", zap.String("pair", pair), zap.Error(err))
		return false
	}
	return true
}
