package dispatcher

import (
	"strings"
	"sync"
	"time"

	"pump-trader-go/internal/scanner"
)

// DefaultWindow 定时自动买入的有效窗口。
const DefaultWindow = 300 * time.Second

const (
	ReasonBuyNext  = "buy_next"
	ReasonSchedule = "scheduled"
	ReasonNone     = "none"
)

// AutoBuyPolicy 决定异动事件是否自动买入。两种开关都是一次性的：命中后即清除。
// 优先级：下一次买入（可排除一个交易对） > 定时窗口 [at, at+window) > 不买。
type AutoBuyPolicy struct {
	mu          sync.Mutex
	buyNext     bool
	except      string
	scheduled   bool
	scheduledAt time.Time
	window      time.Duration
}

// PolicySnapshot 策略当前状态。
type PolicySnapshot struct {
	BuyNext     bool
	Except      string
	Scheduled   bool
	ScheduledAt time.Time
	Window      time.Duration
}

func NewAutoBuyPolicy() *AutoBuyPolicy {
	return &AutoBuyPolicy{window: DefaultWindow}
}

// SetBuyNext 打开或关闭“下一次异动自动买入”；except 为空表示不排除。
func (p *AutoBuyPolicy) SetBuyNext(enabled bool, except string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buyNext = enabled
	p.except = ""
	if enabled {
		p.except = strings.ToUpper(except)
	}
}

// ToggleBuyNext 翻转开关，返回翻转后的状态。
func (p *AutoBuyPolicy) ToggleBuyNext(except string) bool {
	p.mu.Lock()
	enabled := !p.buyNext
	p.mu.Unlock()
	p.SetBuyNext(enabled, except)
	return enabled
}

// Schedule 设置定时窗口起点。
func (p *AutoBuyPolicy) Schedule(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduled = true
	p.scheduledAt = at
}

// ClearSchedule 取消定时窗口，返回之前是否已设置。
func (p *AutoBuyPolicy) ClearSchedule() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.scheduled
	p.scheduled = false
	p.scheduledAt = time.Time{}
	return was
}

// Decide 对单个事件做出决定，命中的开关被消费。
func (p *AutoBuyPolicy) Decide(ev scanner.AnomalyEvent, now time.Time) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buyNext && (p.except == "" || p.except != strings.ToUpper(ev.Symbol)) {
		p.buyNext = false
		p.except = ""
		return true, ReasonBuyNext
	}
	if p.scheduled && !now.Before(p.scheduledAt) && now.Before(p.scheduledAt.Add(p.window)) {
		p.scheduled = false
		p.scheduledAt = time.Time{}
		return true, ReasonSchedule
	}
	return false, ReasonNone
}

func (p *AutoBuyPolicy) Snapshot() PolicySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PolicySnapshot{
		BuyNext:     p.buyNext,
		Except:      p.except,
		Scheduled:   p.scheduled,
		ScheduledAt: p.scheduledAt,
		Window:      p.window,
	}
}
