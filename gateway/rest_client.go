package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"pump-trader-go/market"
	"pump-trader-go/order"
)

// RESTClient 现货 v3 兼容的签名 REST 客户端（MEXC / Binance）。
type RESTClient struct {
	Venue        Venue
	BaseURL      string
	APIKey       string
	Secret       string
	RecvWindowMs int
	HTTPClient   *http.Client
	Limiter      RateLimiter

	mu       sync.RWMutex
	markets  map[string]marketInfo // pair -> info
	bySymbol map[string]string     // 交易所 symbol -> pair
}

type marketInfo struct {
	symbol    string
	precision order.Precision
}

// NewRESTClient 创建客户端；baseURL 为空时使用交易所默认地址。
func NewRESTClient(venue Venue, baseURL, apiKey, secret string, limiter RateLimiter) *RESTClient {
	if baseURL == "" {
		baseURL = venue.BaseURL
	}
	return &RESTClient{
		Venue:        venue,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		Secret:       secret,
		RecvWindowMs: 5000,
		HTTPClient:   NewDefaultHTTPClient(),
		Limiter:      limiter,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *RESTClient) Name() string { return c.Venue.Name }

func (c *RESTClient) MarketBuyUsesCost() bool { return c.Venue.MarketBuyUsesCost }

// flexFloat 兼容字符串、数字与 null 三种写法。
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		f.Valid = false
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.Value, f.Valid = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// flexString 订单号有的站点是数字，有的是字符串。
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(strings.Trim(string(b), `"`))
	if *s == "null" {
		*s = ""
	}
	return nil
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *RESTClient) do(ctx context.Context, method, path string, params map[string]string, signed bool, out interface{}) error {
	if c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	var query string
	if signed {
		params["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
		if c.RecvWindowMs > 0 {
			params["recvWindow"] = strconv.Itoa(c.RecvWindowMs)
		}
		q, sig := SignParams(params, c.Secret)
		query = q + "&signature=" + url.QueryEscape(sig)
	} else {
		q, _ := SignParams(params, "")
		query = q
	}
	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		header := c.Venue.APIKeyHeader
		if header == "" {
			header = "X-MBX-APIKEY"
		}
		req.Header.Set(header, c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var eb apiErrorBody
		_ = json.Unmarshal(body, &eb)
		if eb.Msg == "" {
			eb.Msg = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Code, Msg: eb.Msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformed, method, path, err)
	}
	return nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol             string `json:"symbol"`
		Status             string `json:"status"`
		BaseAsset          string `json:"baseAsset"`
		QuoteAsset         string `json:"quoteAsset"`
		BaseAssetPrecision int    `json:"baseAssetPrecision"`
		QuotePrecision     int    `json:"quotePrecision"`
		BaseSizePrecision  string `json:"baseSizePrecision"`
		Filters            []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// LoadMarkets 拉取 exchangeInfo 并缓存交易对精度；已加载时直接返回。
func (c *RESTClient) LoadMarkets(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.markets != nil
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	var info exchangeInfoResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, false, &info); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	markets := make(map[string]marketInfo, len(info.Symbols))
	bySymbol := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			continue
		}
		p := order.Precision{
			PriceStep:  pow10(-s.QuotePrecision),
			AmountStep: pow10(-s.BaseAssetPrecision),
		}
		if v, err := strconv.ParseFloat(s.BaseSizePrecision, 64); err == nil && v > 0 {
			p.AmountStep = v
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if v, err := strconv.ParseFloat(f.TickSize, 64); err == nil && v > 0 {
					p.PriceStep = v
				}
			case "LOT_SIZE":
				if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil && v > 0 {
					p.AmountStep = v
				}
				if v, err := strconv.ParseFloat(f.MinQty, 64); err == nil && v > 0 {
					p.MinAmount = v
				}
			}
		}
		if p.MinAmount == 0 {
			p.MinAmount = p.AmountStep
		}
		pair := Pair(s.BaseAsset, s.QuoteAsset)
		markets[pair] = marketInfo{symbol: s.Symbol, precision: p}
		bySymbol[s.Symbol] = pair
	}
	c.mu.Lock()
	c.markets, c.bySymbol = markets, bySymbol
	c.mu.Unlock()
	return nil
}

func pow10(exp int) float64 {
	if exp == 0 {
		return 1
	}
	return math.Pow10(exp)
}

func (c *RESTClient) market(ctx context.Context, pair string) (marketInfo, error) {
	if err := c.LoadMarkets(ctx); err != nil {
		return marketInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[pair]
	if !ok {
		return marketInfo{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return m, nil
}

func (c *RESTClient) Precision(ctx context.Context, pair string) (order.Precision, error) {
	m, err := c.market(ctx, pair)
	if err != nil {
		return order.Precision{}, err
	}
	return m.precision, nil
}

type ticker24hResp struct {
	Symbol      string    `json:"symbol"`
	LastPrice   flexFloat `json:"lastPrice"`
	QuoteVolume flexFloat `json:"quoteVolume"`
}

// FetchTickers 一次拉取全部 24h ticker，key 为 BASE/QUOTE。
func (c *RESTClient) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	if err := c.LoadMarkets(ctx); err != nil {
		return nil, err
	}
	var raw []ticker24hResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", nil, false, &raw); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Ticker, len(raw))
	for _, t := range raw {
		pair, ok := c.bySymbol[t.Symbol]
		if !ok {
			continue
		}
		out[pair] = Ticker{Symbol: pair, Last: t.LastPrice.ptr(), QuoteVolume: t.QuoteVolume.ptr()}
	}
	return out, nil
}

func (c *RESTClient) FetchTicker(ctx context.Context, pair string) (Ticker, error) {
	m, err := c.market(ctx, pair)
	if err != nil {
		return Ticker{}, err
	}
	var raw struct {
		Symbol string    `json:"symbol"`
		Price  flexFloat `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", map[string]string{"symbol": m.symbol}, false, &raw); err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker %s: %w", pair, err)
	}
	return Ticker{Symbol: pair, Last: raw.Price.ptr()}, nil
}

// FetchOrderBook 拉取前 20 档深度。
func (c *RESTClient) FetchOrderBook(ctx context.Context, pair string) (market.OrderBook, error) {
	m, err := c.market(ctx, pair)
	if err != nil {
		return market.OrderBook{}, err
	}
	var raw struct {
		Bids [][2]flexFloat `json:"bids"`
		Asks [][2]flexFloat `json:"asks"`
	}
	params := map[string]string{"symbol": m.symbol, "limit": "20"}
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false, &raw); err != nil {
		return market.OrderBook{}, fmt.Errorf("fetch order book %s: %w", pair, err)
	}
	return market.OrderBook{
		Pair:      pair,
		Bids:      toLevels(raw.Bids),
		Asks:      toLevels(raw.Asks),
		Timestamp: time.Now(),
	}, nil
}

func toLevels(raw [][2]flexFloat) []market.Level {
	out := make([]market.Level, 0, len(raw))
	for _, lv := range raw {
		if !lv[0].Valid {
			continue
		}
		out = append(out, market.Level{Price: lv[0].Value, Volume: lv[1].Value})
	}
	return out
}

func (c *RESTClient) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	var raw struct {
		Balances []struct {
			Asset  string    `json:"asset"`
			Free   flexFloat `json:"free"`
			Locked flexFloat `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &raw); err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	out := make(map[string]Balance, len(raw.Balances))
	for _, b := range raw.Balances {
		out[strings.ToUpper(b.Asset)] = Balance{Free: b.Free.Value, Locked: b.Locked.Value}
	}
	return out, nil
}

type orderResp struct {
	OrderID             flexString `json:"orderId"`
	Symbol              string     `json:"symbol"`
	Status              string     `json:"status"`
	Side                string     `json:"side"`
	Type                string     `json:"type"`
	Price               flexFloat  `json:"price"`
	OrigQty             flexFloat  `json:"origQty"`
	ExecutedQty         flexFloat  `json:"executedQty"`
	CummulativeQuoteQty flexFloat  `json:"cummulativeQuoteQty"`
}

func mapStatus(s string) order.Status {
	switch strings.ToUpper(s) {
	case "", "NEW", "PARTIALLY_FILLED":
		return order.StatusOpen
	case "FILLED":
		return order.StatusClosed
	case "CANCELED", "PARTIALLY_CANCELED", "PENDING_CANCEL":
		return order.StatusCanceled
	case "REJECTED", "EXPIRED":
		return order.StatusRejected
	default:
		return order.StatusUnknown
	}
}

func (r orderResp) toOrder(pair string) order.Order {
	o := order.Order{
		ID:     string(r.OrderID),
		Pair:   pair,
		Side:   order.Side(strings.ToLower(r.Side)),
		Kind:   order.Kind(strings.ToLower(r.Type)),
		Price:  r.Price.Value,
		Amount: r.OrigQty.Value,
		Filled: r.ExecutedQty.Value,
		Status: mapStatus(r.Status),
	}
	if r.ExecutedQty.Value > 0 && r.CummulativeQuoteQty.Valid {
		o.Average = r.CummulativeQuoteQty.Value / r.ExecutedQty.Value
	}
	return o
}

func (c *RESTClient) FetchOrder(ctx context.Context, id, pair string) (order.Order, error) {
	m, err := c.market(ctx, pair)
	if err != nil {
		return order.Order{}, err
	}
	var raw orderResp
	params := map[string]string{"symbol": m.symbol, "orderId": id}
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &raw); err != nil {
		return order.Order{}, fmt.Errorf("fetch order %s: %w", id, err)
	}
	if raw.OrderID == "" {
		raw.OrderID = flexString(id)
	}
	return raw.toOrder(pair), nil
}

func (c *RESTClient) place(ctx context.Context, pair string, params map[string]string, side order.Side, kind order.Kind) (order.Order, error) {
	m, err := c.market(ctx, pair)
	if err != nil {
		return order.Order{}, err
	}
	params["symbol"] = m.symbol
	var raw orderResp
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &raw); err != nil {
		return order.Order{}, fmt.Errorf("place %s %s %s: %w", kind, side, pair, err)
	}
	if raw.OrderID == "" {
		return order.Order{}, fmt.Errorf("%w: empty orderId", ErrMalformed)
	}
	o := raw.toOrder(pair)
	o.Side, o.Kind = side, kind
	return o, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CreateMarketBuy 按交易所能力传 quoteOrderQty（美元）或 quantity（数量）。
func (c *RESTClient) CreateMarketBuy(ctx context.Context, pair string, sizeOrCost float64) (order.Order, error) {
	params := map[string]string{"side": "BUY", "type": "MARKET"}
	if c.MarketBuyUsesCost() {
		params["quoteOrderQty"] = formatFloat(sizeOrCost)
	} else {
		params["quantity"] = formatFloat(sizeOrCost)
	}
	return c.place(ctx, pair, params, order.SideBuy, order.KindMarket)
}

func (c *RESTClient) CreateLimitBuy(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	return c.placeLimit(ctx, pair, "BUY", order.SideBuy, amount, price)
}

func (c *RESTClient) CreateLimitSell(ctx context.Context, pair string, amount, price float64) (order.Order, error) {
	return c.placeLimit(ctx, pair, "SELL", order.SideSell, amount, price)
}

func (c *RESTClient) placeLimit(ctx context.Context, pair, sideParam string, side order.Side, amount, price float64) (order.Order, error) {
	params := map[string]string{
		"side":        sideParam,
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"quantity":    formatFloat(amount),
		"price":       formatFloat(price),
	}
	o, err := c.place(ctx, pair, params, side, order.KindLimit)
	if err != nil {
		return o, err
	}
	if o.Amount == 0 {
		o.Amount = amount
	}
	if o.Price == 0 {
		o.Price = price
	}
	return o, nil
}

func (c *RESTClient) CancelOrder(ctx context.Context, id, pair string) error {
	m, err := c.market(ctx, pair)
	if err != nil {
		return err
	}
	params := map[string]string{"symbol": m.symbol, "orderId": id}
	if err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	return nil
}

var _ MarketGateway = (*RESTClient)(nil)
