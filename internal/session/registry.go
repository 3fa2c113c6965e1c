// Package session 管理以 fire-and-forget 方式启动的交易会话。
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
)

// Info 运行中会话的概要。
type Info struct {
	ID      string
	Pair    string
	Kind    Kind
	Started time.Time
}

type entry struct {
	info   Info
	cancel context.CancelFunc
}

// RunFunc 会话主体；ctx 被取消时应尽快返回 killed 结果。
type RunFunc func(ctx context.Context) Outcome

// Registry 会话登记表。会话之间互不加锁，登记表只负责启动、终止与收尾。
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
	log      *logger.Logger
	clk      clock.Clock
	onFinish func(Outcome)
}

// NewRegistry 创建登记表；clk 为 nil 时用系统时间，onFinish 在会话 goroutine 中调用，可为 nil。
func NewRegistry(log *logger.Logger, clk clock.Clock, onFinish func(Outcome)) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Registry{
		sessions: make(map[string]*entry),
		log:      log,
		clk:      clk,
		onFinish: onFinish,
	}
}

// Launch 在新 goroutine 中运行会话并立即返回会话 ID。
func (r *Registry) Launch(parent context.Context, pair string, kind Kind, run RunFunc) string {
	ctx, cancel := context.WithCancel(parent)
	info := Info{ID: uuid.NewString(), Pair: pair, Kind: kind, Started: r.clk.Now()}

	r.mu.Lock()
	r.sessions[info.ID] = &entry{info: info, cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		out := r.run(ctx, info, run)

		r.mu.Lock()
		delete(r.sessions, info.ID)
		r.mu.Unlock()

		if r.onFinish != nil {
			r.onFinish(out)
		}
	}()
	r.log.LogSession("launched", pair, map[string]interface{}{"id": info.ID, "kind": string(kind)})
	return info.ID
}

func (r *Registry) run(ctx context.Context, info Info, run RunFunc) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("session panic",
				zap.String("id", info.ID),
				zap.String("pair", info.Pair),
				zap.Any("panic", p))
			out = Outcome{Result: ResultFailed, Err: fmt.Errorf("session panic: %v", p)}
		}
		out.ID, out.Pair, out.Kind = info.ID, info.Pair, info.Kind
		if out.Started.IsZero() {
			out.Started = info.Started
		}
		if out.Finished.IsZero() {
			out.Finished = r.clk.Now()
		}
	}()
	return run(ctx)
}

// Kill 取消该交易对的全部会话，返回取消数量。挂单不会被自动撤销。
func (r *Registry) Kill(pair string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.sessions {
		if e.info.Pair == pair {
			e.cancel()
			n++
		}
	}
	return n
}

// KillAll 取消全部会话。
func (r *Registry) KillAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sessions {
		e.cancel()
	}
	return len(r.sessions)
}

// Active 按启动时间排序的运行中会话。
func (r *Registry) Active() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Wait 等待全部会话结束。
func (r *Registry) Wait() {
	r.wg.Wait()
}
