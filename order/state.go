package order

// Status represents order lifecycle as reported by the venue.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
	// StatusUnknown 表示本轮无法得知订单状态（查询耗尽或回报无法解析）。
	StatusUnknown Status = "unknown"
)

// Terminal 终态：订单不会再成交。
func (s Status) Terminal() bool {
	switch s {
	case StatusClosed, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind 订单类型。
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
)

// Order holds a simplified order view.
type Order struct {
	ID      string
	Pair    string // BASE/QUOTE, e.g. DOGE/USDT
	Side    Side
	Kind    Kind
	Price   float64 // limit price; 0 for market orders
	Amount  float64 // requested base amount (or quote cost for cost-denominated market buys)
	Average float64 // average fill price, 0 if unknown
	Filled  float64
	Status  Status
}

// FillPrice 返回最可信的成交参考价：均价优先，其次委托价。
func (o Order) FillPrice() float64 {
	if o.Average > 0 {
		return o.Average
	}
	return o.Price
}
