// Package scanner 轮询全市场 ticker，按量价异动生成事件。
package scanner

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
)

// AnomalyEvent 一次量价异动，生成后不再修改。
type AnomalyEvent struct {
	Symbol              string
	CurrentQuoteVolume  float64
	PreviousQuoteVolume float64
	PricePercentChange  float64
	DetectedAt          time.Time
}

// Baseline 单个交易对的基准。MinPrice 只降不升；MinQuoteVolume 只在触发时替换。
type Baseline struct {
	Symbol         string
	MinPrice       float64
	HasPrice       bool
	MinQuoteVolume float64
}

// TickerSource 扫描器只需要一次拉全部 ticker 的能力。
type TickerSource interface {
	FetchTickers(ctx context.Context) (map[string]gateway.Ticker, error)
}

// Metrics 扫描指标，监控层实现。
type Metrics interface {
	ObserveScan(d time.Duration, err error)
	ObserveAnomaly(symbol string)
	SetTracked(n int)
	SetSuspended(v bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveScan(time.Duration, error) {}
func (nopMetrics) ObserveAnomaly(string)            {}
func (nopMetrics) SetTracked(int)                   {}
func (nopMetrics) SetSuspended(bool)                {}

// Scanner 异动扫描器。
type Scanner struct {
	src        TickerSource
	store      *config.Store
	queue      *Queue
	suspension *Suspension
	clk        clock.Clock
	log        *logger.Logger
	metrics    Metrics

	mu        sync.Mutex
	baselines map[string]*Baseline
}

var errPanic = errors.New("scan cycle panicked")

// Option 可选依赖。
type Option func(*Scanner)

func WithClock(clk clock.Clock) Option { return func(s *Scanner) { s.clk = clk } }
func WithLogger(l *logger.Logger) Option { return func(s *Scanner) { s.log = l } }
func WithMetrics(m Metrics) Option { return func(s *Scanner) { s.metrics = m } }

// New 创建扫描器。
func New(src TickerSource, store *config.Store, queue *Queue, suspension *Suspension, opts ...Option) *Scanner {
	s := &Scanner{
		src:        src,
		store:      store,
		queue:      queue,
		suspension: suspension,
		clk:        clock.Real,
		log:        logger.NewNop(),
		metrics:    nopMetrics{},
		baselines:  make(map[string]*Baseline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Process 处理一轮 ticker，返回本轮触发的事件（按交易对排序）。不做任何 IO。
func (s *Scanner) Process(tickers map[string]gateway.Ticker, now time.Time) []AnomalyEvent {
	cfg := s.store.Snapshot().Scanner
	suffix := "/" + strings.ToUpper(cfg.QuoteCurrency)

	symbols := make([]string, 0, len(tickers))
	for sym := range tickers {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []AnomalyEvent
	for _, sym := range symbols {
		if !strings.HasSuffix(sym, suffix) || !cfg.Allowed(sym) {
			continue
		}
		t := tickers[sym]
		if t.QuoteVolume == nil {
			continue
		}
		vol := *t.QuoteVolume

		b, seen := s.baselines[sym]
		if !seen {
			b = &Baseline{Symbol: sym, MinQuoteVolume: vol}
			if t.Last != nil {
				b.MinPrice, b.HasPrice = *t.Last, true
			}
			s.baselines[sym] = b
			continue
		}

		var pct *float64
		if t.Last != nil && b.HasPrice && b.MinPrice > 0 {
			p := round2((*t.Last - b.MinPrice) / b.MinPrice * 100)
			pct = &p
		}
		if t.Last != nil && (!b.HasPrice || *t.Last < b.MinPrice) {
			b.MinPrice, b.HasPrice = *t.Last, true
		}
		priceMet := pct != nil && *pct >= cfg.PricePct

		prev := b.MinQuoteVolume
		var fire bool
		if prev == 0 {
			fire = vol >= cfg.MinQuoteVolume && priceMet
		} else {
			fire = vol/prev >= cfg.VolumeRatio && vol >= cfg.MinQuoteVolume && priceMet
		}
		if !fire {
			continue
		}
		b.MinQuoteVolume = vol
		events = append(events, AnomalyEvent{
			Symbol:              sym,
			CurrentQuoteVolume:  vol,
			PreviousQuoteVolume: prev,
			PricePercentChange:  *pct,
			DetectedAt:          now,
		})
	}
	return events
}

// Baseline 返回某交易对当前基准的副本。
func (s *Scanner) Baseline(symbol string) (Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[symbol]
	if !ok {
		return Baseline{}, false
	}
	return *b, true
}

// Tracked 已建立基准的交易对数量。
func (s *Scanner) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.baselines)
}

// Run 持续扫描直到 ctx 结束。单轮出错只记录并退避，不退出循环。
func (s *Scanner) Run(ctx context.Context) error {
	s.log.Info("scanner started")
	defer s.log.Info("scanner stopped")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		cfg := s.store.Snapshot().Scanner

		suspended := s.suspension != nil && s.suspension.Suspended()
		s.metrics.SetSuspended(suspended)
		if suspended {
			if s.clk.Sleep(ctx, cfg.SuspendedExtraSleep) != nil {
				return nil
			}
		}

		if err := s.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("scan cycle failed", zap.Error(err))
			if s.clk.Sleep(ctx, cfg.ErrorBackoff) != nil {
				return nil
			}
			continue
		}
		if s.clk.Sleep(ctx, cfg.ScanInterval) != nil {
			return nil
		}
	}
}

func (s *Scanner) cycle(ctx context.Context) (err error) {
	start := s.clk.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan cycle panic", zap.Any("panic", r))
			err = errPanic
		}
		s.metrics.ObserveScan(s.clk.Now().Sub(start), err)
	}()

	tickers, err := s.src.FetchTickers(ctx)
	if err != nil {
		return err
	}
	events := s.Process(tickers, s.clk.Now())
	for _, ev := range events {
		s.queue.Push(ev)
		s.metrics.ObserveAnomaly(ev.Symbol)
		s.log.LogAnomaly(ev.Symbol, map[string]interface{}{
			"pct":        ev.PricePercentChange,
			"volume":     ev.CurrentQuoteVolume,
			"prevVolume": ev.PreviousQuoteVolume,
		})
	}
	s.metrics.SetTracked(s.Tracked())
	return nil
}
