package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-trader-go/order"
)

const exchangeInfoJSON = `{"symbols":[
 {"symbol":"DOGEUSDT","status":"1","baseAsset":"DOGE","quoteAsset":"USDT","baseAssetPrecision":2,"quotePrecision":5,
  "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.00001"},{"filterType":"LOT_SIZE","stepSize":"1","minQty":"2"}]},
 {"symbol":"PEPEUSDT","status":"1","baseAsset":"PEPE","quoteAsset":"USDT","baseAssetPrecision":0,"quotePrecision":8,"baseSizePrecision":"100"}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	timeNowMillis = func() int64 { return 1234567890000 }
	t.Cleanup(func() { timeNowMillis = func() int64 { return time.Now().UnixMilli() } })

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/exchangeInfo" {
			io.WriteString(w, exchangeInfoJSON)
			return
		}
		h(w, r)
	}))
	t.Cleanup(ts.Close)

	venue, err := LookupVenue("mexc")
	require.NoError(t, err)
	cli := NewRESTClient(venue, ts.URL, "key", "secret", nil)
	cli.HTTPClient = ts.Client()
	return cli
}

func TestRESTClientFetchTickers(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		io.WriteString(w, `[
			{"symbol":"DOGEUSDT","lastPrice":"0.1234","quoteVolume":"1500.5"},
			{"symbol":"PEPEUSDT","lastPrice":null,"quoteVolume":"10"},
			{"symbol":"GHOSTUSDT","lastPrice":"1","quoteVolume":"1"}
		]`)
	})

	tickers, err := cli.FetchTickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	doge := tickers["DOGE/USDT"]
	require.NotNil(t, doge.Last)
	assert.InDelta(t, 0.1234, *doge.Last, 1e-12)
	assert.InDelta(t, 1500.5, *doge.QuoteVolume, 1e-12)

	pepe := tickers["PEPE/USDT"]
	assert.Nil(t, pepe.Last)
	require.NotNil(t, pepe.QuoteVolume)
}

func TestRESTClientPrecision(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	p, err := cli.Precision(context.Background(), "DOGE/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.Precision{PriceStep: 0.00001, AmountStep: 1, MinAmount: 2}, p)

	p, err = cli.Precision(context.Background(), "PEPE/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 1e-8, p.PriceStep, 1e-20)
	assert.Equal(t, 100.0, p.AmountStep)
	assert.Equal(t, 100.0, p.MinAmount)

	_, err = cli.Precision(context.Background(), "NOPE/USDT")
	assert.True(t, errors.Is(err, ErrUnknownPair))
}

func TestRESTClientOrderBook(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DOGEUSDT", r.URL.Query().Get("symbol"))
		io.WriteString(w, `{"bids":[["0.100","50"],["0.099","10"]],"asks":[["0.101","20"],["0.102","30"]]}`)
	})

	book, err := cli.FetchOrderBook(context.Background(), "DOGE/USDT")
	require.NoError(t, err)
	top, err := book.Top()
	require.NoError(t, err)
	assert.Equal(t, 0.100, top.BestBid)
	assert.Equal(t, 0.099, top.SecondBid)
	assert.Equal(t, 0.101, top.BestAsk)
	assert.Equal(t, 0.102, top.SecondAsk)
}

func TestRESTClientMarketBuyByCost(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))
		q := r.URL.Query()
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "10", q.Get("quoteOrderQty"))
		assert.Empty(t, q.Get("quantity"))
		assert.Equal(t, "1234567890000", q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))
		io.WriteString(w, `{"symbol":"DOGEUSDT","orderId":987654,"side":"BUY","type":"MARKET"}`)
	})

	o, err := cli.CreateMarketBuy(context.Background(), "DOGE/USDT", 10)
	require.NoError(t, err)
	assert.Equal(t, "987654", o.ID)
	assert.Equal(t, order.StatusOpen, o.Status)
	assert.Equal(t, order.SideBuy, o.Side)
	assert.Equal(t, order.KindMarket, o.Kind)
}

func TestRESTClientMarketBuyByAmount(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "50", q.Get("quantity"))
		assert.Empty(t, q.Get("quoteOrderQty"))
		io.WriteString(w, `{"orderId":"abc"}`)
	})
	cli.Venue.MarketBuyUsesCost = false

	o, err := cli.CreateMarketBuy(context.Background(), "DOGE/USDT", 50)
	require.NoError(t, err)
	assert.Equal(t, "abc", o.ID)
}

func TestRESTClientFetchOrderStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   order.Status
	}{
		{"挂单中", "NEW", order.StatusOpen},
		{"部分成交", "PARTIALLY_FILLED", order.StatusOpen},
		{"完全成交", "FILLED", order.StatusClosed},
		{"已撤销", "CANCELED", order.StatusCanceled},
		{"被拒绝", "REJECTED", order.StatusRejected},
		{"未知状态", "SOMETHING", order.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "42", r.URL.Query().Get("orderId"))
				io.WriteString(w, `{"orderId":"42","status":"`+tt.status+`","side":"SELL","type":"LIMIT",
					"price":"0.2","origQty":"100","executedQty":"50","cummulativeQuoteQty":"10.5"}`)
			})
			o, err := cli.FetchOrder(context.Background(), "42", "DOGE/USDT")
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.Status)
			assert.Equal(t, order.SideSell, o.Side)
			assert.InDelta(t, 0.21, o.Average, 1e-12)
			assert.Equal(t, 50.0, o.Filled)
		})
	}
}

func TestRESTClientLimitSellAndCancel(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			q := r.URL.Query()
			assert.Equal(t, "SELL", q.Get("side"))
			assert.Equal(t, "LIMIT", q.Get("type"))
			assert.Equal(t, "GTC", q.Get("timeInForce"))
			assert.Equal(t, "0.12345", q.Get("price"))
			assert.Equal(t, "30", q.Get("quantity"))
			io.WriteString(w, `{"orderId":"7"}`)
		case http.MethodDelete:
			assert.Equal(t, "7", r.URL.Query().Get("orderId"))
			io.WriteString(w, `{}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	o, err := cli.CreateLimitSell(context.Background(), "DOGE/USDT", 30, 0.12345)
	require.NoError(t, err)
	assert.Equal(t, 0.12345, o.Price)
	assert.Equal(t, 30.0, o.Amount)
	require.NoError(t, cli.CancelOrder(context.Background(), o.ID, "DOGE/USDT"))
}

func TestRESTClientErrors(t *testing.T) {
	t.Run("限流为瞬时错误", func(t *testing.T) {
		cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"code":-1003,"msg":"too many requests"}`)
		})
		_, err := cli.FetchTicker(context.Background(), "DOGE/USDT")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, -1003, apiErr.Code)
		assert.True(t, apiErr.Transient())
		assert.True(t, IsTransient(err))
	})
	t.Run("参数错误不可重试", func(t *testing.T) {
		cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":-2010,"msg":"insufficient balance"}`)
		})
		_, err := cli.CreateLimitBuy(context.Background(), "DOGE/USDT", 1, 1)
		assert.False(t, IsTransient(err))
	})
	t.Run("回报无法解析", func(t *testing.T) {
		cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>`)
		})
		_, err := cli.FetchBalance(context.Background())
		assert.True(t, errors.Is(err, ErrMalformed))
		assert.False(t, IsTransient(err))
	})
}

func TestSignParamsDeterministic(t *testing.T) {
	q1, s1 := SignParams(map[string]string{"b": "2", "a": "1"}, "secret")
	q2, s2 := SignParams(map[string]string{"a": "1", "b": "2"}, "secret")
	assert.Equal(t, "a=1&b=2", q1)
	assert.Equal(t, q1, q2)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 64)
	_, other := SignParams(map[string]string{"a": "1", "b": "2"}, "other")
	assert.NotEqual(t, s1, other)
}

func TestNormalizePair(t *testing.T) {
	assert.Equal(t, "DOGE/USDT", NormalizePair("doge", "USDT"))
	assert.Equal(t, "DOGE/USDT", NormalizePair("DOGEUSDT", "usdt"))
	assert.Equal(t, "DOGE/USDT", NormalizePair(" doge/usdt ", "USDT"))
	assert.True(t, strings.HasSuffix(NormalizePair("usdt", "USDT"), "/USDT"))
}

func TestLookupVenue(t *testing.T) {
	v, err := LookupVenue("MEXC")
	require.NoError(t, err)
	assert.True(t, v.MarketBuyUsesCost)
	_, err = LookupVenue("nowhere")
	assert.Error(t, err)
}
