// Package gateway 定义交易所能力接口以及具体适配器。
// 所有调用都可能瞬时失败，且不保证原子：客户端报错时订单可能已在服务端生效。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pump-trader-go/market"
	"pump-trader-go/order"
)

// ErrMalformed 交易所回报无法解析；上层当作“本轮无信息”处理。
var ErrMalformed = errors.New("malformed gateway response")

// ErrUnknownPair 交易对不在交易所市场列表里。
var ErrUnknownPair = errors.New("unknown pair")

// Ticker 单个交易对的最新报价；nil 表示交易所未给出该字段。
type Ticker struct {
	Symbol      string
	Last        *float64
	QuoteVolume *float64
}

// Balance 单个资产余额。
type Balance struct {
	Free   float64
	Locked float64
}

// MarketGateway 统一的交易所能力接口，每个交易所实现一次。
type MarketGateway interface {
	Name() string
	// MarketBuyUsesCost 为 true 时市价买单传美元金额，否则传代币数量。
	MarketBuyUsesCost() bool

	FetchTickers(ctx context.Context) (map[string]Ticker, error)
	FetchTicker(ctx context.Context, pair string) (Ticker, error)
	FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchOrder(ctx context.Context, id, pair string) (order.Order, error)

	CreateMarketBuy(ctx context.Context, pair string, sizeOrCost float64) (order.Order, error)
	CreateLimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error)
	CreateLimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error)
	CancelOrder(ctx context.Context, id, pair string) error

	Precision(ctx context.Context, pair string) (order.Precision, error)
}

// APIError 交易所返回的非 2xx 响应。
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Transient 限流(429/418)与 5xx 视为瞬时错误。
func (e *APIError) Transient() bool {
	return e.Status == 429 || e.Status == 418 || e.Status >= 500
}

// IsTransient 判断错误是否值得原样重试；非 APIError（超时、断连）也视为瞬时。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return !errors.Is(err, ErrMalformed)
}

// Pair 拼接交易对，如 Pair("DOGE","USDT") = "DOGE/USDT"。
func Pair(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// SplitPair 拆分 BASE/QUOTE。
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q", pair)
	}
	return parts[0], parts[1], nil
}

// NormalizePair 接受 "doge"、"DOGE/USDT"、"DOGEUSDT" 等写法，统一为 BASE/QUOTE。
func NormalizePair(s, quote string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	quote = strings.ToUpper(quote)
	if strings.Contains(s, "/") {
		return s
	}
	if quote != "" && strings.HasSuffix(s, quote) && len(s) > len(quote) {
		return Pair(strings.TrimSuffix(s, quote), quote)
	}
	return Pair(s, quote)
}
