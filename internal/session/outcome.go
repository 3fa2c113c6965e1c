package session

import (
	"context"
	"time"
)

// Kind 会话类型。
type Kind string

const (
	KindPump   Kind = "pump"
	KindSpread Kind = "spread"
)

// Result 会话结束方式。
type Result string

const (
	ResultTotal     Result = "total"     // 全额止盈单成交
	ResultPartial   Result = "partial"   // 部分止盈单成交
	ResultTracked   Result = "tracked"   // 跟价卖出完成
	ResultAbandoned Result = "abandoned" // 入场失败
	ResultExpired   Result = "expired"   // 达到最长运行时间
	ResultKilled    Result = "killed"    // 被手动终止
	ResultFailed    Result = "failed"    // panic 等意外退出
)

// Outcome 会话结果，交给引擎记录、告警与入库。
type Outcome struct {
	ID              string
	Pair            string
	Kind            Kind
	Result          Result
	EntryPrice      float64
	EstimatedProfit float64
	// LeakedOrders 会话结束时仍挂在交易所上的订单，需要人工处理。
	LeakedOrders []string
	Started      time.Time
	Finished     time.Time
	Err          error
}

// Duration 会话运行时长。
func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Interrupted 根据 ctx 判断会话是否被终止，是则补全 killed 结果。
func Interrupted(ctx context.Context, out *Outcome, openIDs []string) bool {
	if ctx.Err() == nil {
		return false
	}
	out.Result = ResultKilled
	out.LeakedOrders = openIDs
	return true
}
