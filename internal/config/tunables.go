package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScannerTunables 扫描器参数。
type ScannerTunables struct {
	QuoteCurrency       string        `yaml:"quote_currency"`
	VolumeRatio         float64       `yaml:"volume_ratio"`
	PricePct            float64       `yaml:"price_pct"`
	MinQuoteVolume      float64       `yaml:"min_quote_volume"`
	ScanInterval        time.Duration `yaml:"scan_interval"`
	SuspendedExtraSleep time.Duration `yaml:"suspended_extra_sleep"`
	ErrorBackoff        time.Duration `yaml:"error_backoff"`
	FilterEnabled       bool          `yaml:"filter_enabled"`
	AllowList           []string      `yaml:"allow_list"`
}

// TradeTunables 拉盘交易会话参数；利润为比例（0.01 即 1%）。
type TradeTunables struct {
	USD              float64       `yaml:"usd"`
	PartialProfit    float64       `yaml:"partial_profit"`
	TotalProfit      float64       `yaml:"total_profit"`
	TimeLimitPartial time.Duration `yaml:"time_limit_partial"`
	TimeLimitTotal   time.Duration `yaml:"time_limit_total"`
	MinUpStart       float64       `yaml:"min_up_start"`
	Slippage         float64       `yaml:"slippage"`
	FillTimeout      time.Duration `yaml:"fill_timeout"`
	BuySuspend       time.Duration `yaml:"buy_suspend"`
	TrackMax         time.Duration `yaml:"track_max"`
}

// SpreadTunables 价差会话参数；ActivationPct 为百分比，BidGap/AskGap 为比例。
type SpreadTunables struct {
	Enabled       bool          `yaml:"enabled"`
	Delay         time.Duration `yaml:"delay"`
	USD           float64       `yaml:"usd"`
	ActivationPct float64       `yaml:"activation_pct"`
	TimeLimit     time.Duration `yaml:"time_limit"`
	MaxDuration   time.Duration `yaml:"max_duration"`
	BidGap        float64       `yaml:"bid_gap"`
	AskGap        float64       `yaml:"ask_gap"`
}

// Tunables 运行期可调整的全部参数。
type Tunables struct {
	Scanner ScannerTunables `yaml:"scanner"`
	Trade   TradeTunables   `yaml:"trade"`
	Spread  SpreadTunables  `yaml:"spread"`
}

// Defaults 返回默认参数。
func Defaults() Tunables {
	return Tunables{
		Scanner: ScannerTunables{
			QuoteCurrency:       "USDT",
			VolumeRatio:         1.1,
			PricePct:            2,
			MinQuoteVolume:      5,
			ScanInterval:        200 * time.Millisecond,
			SuspendedExtraSleep: 2500 * time.Millisecond,
			ErrorBackoff:        time.Second,
		},
		Trade: TradeTunables{
			USD:              10,
			PartialProfit:    0.004,
			TotalProfit:      0.01,
			TimeLimitPartial: 20 * time.Second,
			TimeLimitTotal:   60 * time.Second,
			MinUpStart:       0.005,
			Slippage:         0.05,
			FillTimeout:      2 * time.Second,
			BuySuspend:       2 * time.Second,
			TrackMax:         time.Hour,
		},
		Spread: SpreadTunables{
			Enabled:       false,
			Delay:         70 * time.Second,
			USD:           4,
			ActivationPct: 30,
			TimeLimit:     210 * time.Second,
			MaxDuration:   time.Hour,
			BidGap:        0.2,
			AskGap:        0.3,
		},
	}
}

// Validate 校验参数取值范围。
func (t Tunables) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	s, tr, sp := t.Scanner, t.Trade, t.Spread
	check(s.QuoteCurrency != "", "scanner.quote_currency is required")
	check(s.VolumeRatio >= 1, "scanner.volume_ratio must be >= 1, got %v", s.VolumeRatio)
	check(s.PricePct > 0, "scanner.price_pct must be positive, got %v", s.PricePct)
	check(s.MinQuoteVolume >= 0, "scanner.min_quote_volume must be >= 0, got %v", s.MinQuoteVolume)
	check(s.ScanInterval > 0, "scanner.scan_interval must be positive")
	check(s.SuspendedExtraSleep >= 0, "scanner.suspended_extra_sleep must be >= 0")
	check(s.ErrorBackoff > 0, "scanner.error_backoff must be positive")

	check(tr.USD > 0, "trade.usd must be positive, got %v", tr.USD)
	check(tr.PartialProfit > 0 && tr.PartialProfit < 1, "trade.partial_profit must be in (0,1), got %v", tr.PartialProfit)
	check(tr.TotalProfit > 0 && tr.TotalProfit < 1, "trade.total_profit must be in (0,1), got %v", tr.TotalProfit)
	check(tr.TimeLimitPartial > 0, "trade.time_limit_partial must be positive")
	check(tr.TimeLimitTotal > 0, "trade.time_limit_total must be positive")
	check(tr.MinUpStart >= 0, "trade.min_up_start must be >= 0, got %v", tr.MinUpStart)
	check(tr.Slippage >= 0 && tr.Slippage < 1, "trade.slippage must be in [0,1), got %v", tr.Slippage)
	check(tr.FillTimeout > 0, "trade.fill_timeout must be positive")
	check(tr.BuySuspend >= 0, "trade.buy_suspend must be >= 0")
	check(tr.TrackMax > 0, "trade.track_max must be positive")

	check(sp.Delay >= 0, "spread.delay must be >= 0")
	check(sp.USD > 0, "spread.usd must be positive, got %v", sp.USD)
	check(sp.ActivationPct > 0, "spread.activation_pct must be positive, got %v", sp.ActivationPct)
	check(sp.TimeLimit > 0, "spread.time_limit must be positive")
	check(sp.MaxDuration >= sp.TimeLimit, "spread.max_duration must be >= spread.time_limit")
	check(sp.BidGap > 0 && sp.AskGap > 0, "spread.bid_gap and spread.ask_gap must be positive")
	return errors.Join(errs...)
}

// Allowed 过滤开启时判断交易对是否在白名单里。
func (s ScannerTunables) Allowed(pair string) bool {
	if !s.FilterEnabled {
		return true
	}
	for _, p := range s.AllowList {
		if strings.EqualFold(p, pair) {
			return true
		}
	}
	return false
}

func (t Tunables) clone() Tunables {
	t.Scanner.AllowList = append([]string(nil), t.Scanner.AllowList...)
	return t
}

// Store 并发安全的参数容器，会话与扫描器每轮读取一次快照。
type Store struct {
	mu        sync.RWMutex
	t         Tunables
	listeners []func(Tunables)
}

// NewStore 用初始参数创建容器；参数不合法时返回错误。
func NewStore(t Tunables) (*Store, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Store{t: t.clone()}, nil
}

// Snapshot 返回当前参数的副本。
func (s *Store) Snapshot() Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.clone()
}

// Update 在副本上修改并校验，通过后整体替换。
func (s *Store) Update(fn func(*Tunables)) error {
	s.mu.Lock()
	next := s.t.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.t = next
	listeners := make([]func(Tunables), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(next.clone())
	}
	return nil
}

// Replace 整体替换参数。
func (s *Store) Replace(t Tunables) error {
	return s.Update(func(cur *Tunables) { *cur = t })
}

// OnChange 注册参数变更回调。
func (s *Store) OnChange(fn func(Tunables)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
