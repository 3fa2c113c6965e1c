package telegram

import (
	"fmt"
	"strings"
	"time"

	"pump-trader-go/infrastructure/alert"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/dispatcher"
	"pump-trader-go/internal/recorder"
	"pump-trader-go/internal/scanner"
	"pump-trader-go/internal/session"
	"pump-trader-go/posttrade"
)

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

func formatAnomaly(ev scanner.AnomalyEvent, d dispatcher.Decision) string {
	var sb strings.Builder
	sb.WriteString("🚨 *")
	sb.WriteString(escapeMarkdownV2(ev.Symbol))
	sb.WriteString("*\n")
	fmt.Fprintf(&sb, "Volume Now: %s\n", escapeMarkdownV2(fmt.Sprintf("%.4f", ev.CurrentQuoteVolume)))
	fmt.Fprintf(&sb, "Volume Before: %s\n", escapeMarkdownV2(fmt.Sprintf("%.4f", ev.PreviousQuoteVolume)))
	fmt.Fprintf(&sb, "Change: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f%%", ev.PricePercentChange)))
	if d.Buy {
		fmt.Fprintf(&sb, "🛒 Auto\\-buy: %s\n", escapeMarkdownV2(d.Reason))
	}
	return sb.String()
}

var levelEmoji = map[alert.Level]string{
	alert.LevelInfo:     "ℹ️",
	alert.LevelWarning:  "⚠️",
	alert.LevelError:    "❌",
	alert.LevelCritical: "🔥",
}

func formatAlert(a alert.Alert) string {
	var sb strings.Builder
	sb.WriteString(levelEmoji[a.Level])
	sb.WriteString(" *")
	sb.WriteString(escapeMarkdownV2(strings.ToUpper(string(a.Level))))
	sb.WriteString("*")
	if a.Pair != "" {
		sb.WriteString(" ")
		sb.WriteString(escapeMarkdownV2(a.Pair))
	}
	sb.WriteString("\n")
	sb.WriteString(escapeMarkdownV2(a.Message))
	if fields := a.FieldString(); fields != "" {
		sb.WriteString("\n`")
		sb.WriteString(escapeMarkdownV2(fields))
		sb.WriteString("`")
	}
	return sb.String()
}

func formatSettings(t config.Tunables, p dispatcher.PolicySnapshot, scanning bool) string {
	var sb strings.Builder
	sc, tr, sp := t.Scanner, t.Trade, t.Spread
	fmt.Fprintf(&sb, "Scanner: running=%v quote=%s\n", scanning, sc.QuoteCurrency)
	fmt.Fprintf(&sb, "  volume_ratio=%v price_pct=%v%% min_quote_volume=%v\n", sc.VolumeRatio, sc.PricePct, sc.MinQuoteVolume)
	fmt.Fprintf(&sb, "  scan_interval=%s filter=%v allow_list=%d\n", sc.ScanInterval, sc.FilterEnabled, len(sc.AllowList))
	fmt.Fprintf(&sb, "Trade: usd=%v partial=%v total=%v\n", tr.USD, tr.PartialProfit, tr.TotalProfit)
	fmt.Fprintf(&sb, "  time_limit_partial=%s time_limit_total=%s\n", tr.TimeLimitPartial, tr.TimeLimitTotal)
	fmt.Fprintf(&sb, "  min_up_start=%v slippage=%v fill_timeout=%s\n", tr.MinUpStart, tr.Slippage, tr.FillTimeout)
	fmt.Fprintf(&sb, "Spread: enabled=%v delay=%s usd=%v activation=%v%%\n", sp.Enabled, sp.Delay, sp.USD, sp.ActivationPct)
	fmt.Fprintf(&sb, "  time_limit=%s max_duration=%s\n", sp.TimeLimit, sp.MaxDuration)

	buyNext := "off"
	if p.BuyNext {
		buyNext = "on"
		if p.Except != "" {
			buyNext += " (except " + p.Except + ")"
		}
	}
	fmt.Fprintf(&sb, "Buy next: %s\n", buyNext)
	if p.Scheduled {
		fmt.Fprintf(&sb, "Timer buy: %s (+%s)", p.ScheduledAt.UTC().Format("2006-01-02 15:04:05"), p.Window)
	} else {
		sb.WriteString("Timer buy: off")
	}
	return sb.String()
}

func formatSessions(infos []session.Info, now time.Time) string {
	if len(infos) == 0 {
		return "No running sessions."
	}
	var sb strings.Builder
	sb.WriteString("Running sessions:")
	for _, in := range infos {
		fmt.Fprintf(&sb, "\n%s %s %s (%s)", in.Kind, in.Pair, shortID(in.ID), now.Sub(in.Started).Truncate(time.Second))
	}
	return sb.String()
}

func formatHistory(entries []recorder.JournalEntry) string {
	if len(entries) == 0 {
		return "No finished sessions yet."
	}
	var sb strings.Builder
	sb.WriteString("Recent sessions:")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s %s %s %s", e.Finished.Format("01-02 15:04:05"), e.Kind, e.Pair, e.Result)
		if e.EstimatedProfit != 0 {
			fmt.Fprintf(&sb, " profit≈%.4f", e.EstimatedProfit)
		}
		if len(e.LeakedOrders) > 0 {
			fmt.Fprintf(&sb, " leaked=%s", strings.Join(e.LeakedOrders, ","))
		}
		if e.Error != "" {
			fmt.Fprintf(&sb, " err=%s", e.Error)
		}
	}
	st := posttrade.Summarize(entries)
	fmt.Fprintf(&sb, "\nHit rate: %.0f%% (%d/%d) profit≈%.4f", st.HitRate*100, st.TargetHits, st.Entered, st.EstimatedProfit)
	if st.LeakedOrders > 0 {
		fmt.Fprintf(&sb, " leaked=%d", st.LeakedOrders)
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
