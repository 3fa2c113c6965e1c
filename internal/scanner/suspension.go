package scanner

import (
	"sync/atomic"
	"time"

	"pump-trader-go/internal/clock"
)

// Suspension 交易会话入场时通知扫描器放慢节奏。
// 只是节流信号：置位期间扫描器每轮额外休眠，但不会停止。
type Suspension struct {
	clk    clock.Clock
	manual atomic.Bool
	until  atomic.Int64 // UnixNano
}

// NewSuspension 创建未置位的标志。
func NewSuspension(clk clock.Clock) *Suspension {
	if clk == nil {
		clk = clock.Real
	}
	return &Suspension{clk: clk}
}

// Set 手动置位，直到 Clear。
func (s *Suspension) Set() { s.manual.Store(true) }

// Clear 清除手动置位与定时置位。
func (s *Suspension) Clear() {
	s.manual.Store(false)
	s.until.Store(0)
}

// SuspendFor 置位 d 时长；多个会话重叠时取最晚的截止时间。
func (s *Suspension) SuspendFor(d time.Duration) {
	deadline := s.clk.Now().Add(d).UnixNano()
	for {
		cur := s.until.Load()
		if cur >= deadline || s.until.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// Suspended 当前是否置位。
func (s *Suspension) Suspended() bool {
	if s.manual.Load() {
		return true
	}
	until := s.until.Load()
	return until != 0 && s.clk.Now().UnixNano() < until
}
