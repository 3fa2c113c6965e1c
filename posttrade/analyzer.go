// Package posttrade 对已结束会话做事后统计。
package posttrade

import (
	"pump-trader-go/internal/recorder"
	"pump-trader-go/internal/session"
)

// Stats contains statistics computed over finished sessions
type Stats struct {
	Sessions        int
	ByResult        map[session.Result]int
	Entered         int     // 成功入场的拉盘会话
	TargetHits      int     // 止盈单（全额或部分）成交
	HitRate         float64 // TargetHits / Entered
	EstimatedProfit float64
	LeakedOrders    int
}

// Summarize 汇总日志中的会话结果。估算利润只累加止盈成交的会话。
func Summarize(entries []recorder.JournalEntry) Stats {
	stats := Stats{ByResult: make(map[session.Result]int)}
	for _, e := range entries {
		stats.Sessions++
		stats.ByResult[e.Result]++
		stats.LeakedOrders += len(e.LeakedOrders)

		if e.Kind != session.KindPump {
			continue
		}
		switch e.Result {
		case session.ResultAbandoned, session.ResultFailed:
			continue
		case session.ResultTotal, session.ResultPartial:
			stats.TargetHits++
			stats.EstimatedProfit += e.EstimatedProfit
		}
		stats.Entered++
	}
	if stats.Entered > 0 {
		stats.HitRate = float64(stats.TargetHits) / float64(stats.Entered)
	}
	return stats
}
