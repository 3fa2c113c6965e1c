package clock

import (
	"context"
	"sync"
	"time"
)

// Clock 抽象时间便于测试。会话和扫描循环只通过它取时间和休眠。
type Clock interface {
	Now() time.Time
	// Sleep 休眠 d；ctx 结束时提前返回 ctx.Err()。
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Real 默认使用系统时间。
var Real Clock = realClock{}

// Fake 是测试用的手动时钟：Sleep 直接推进时间，Now 每次调用推进 Tick。
// Tick 让没有 Sleep 的轮询循环（如价差会话）也能走到时间上限。
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	Tick time.Duration
}

// NewFake 从 start 开始计时。
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.Tick)
	return t
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return nil
}

// Advance 手动推进时间。
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
