package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pump-trader-go/order"
)

func TestScanMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.ObserveScan(120*time.Millisecond, nil)
	m.ObserveScan(3*time.Second, errors.New("timeout"))
	m.ObserveAnomaly("DOGE/USDT")
	m.ObserveAnomaly("DOGE/USDT")
	m.SetTracked(42)
	m.SetSuspended(true)

	if got := testutil.ToFloat64(m.scanCycles); got != 2 {
		t.Errorf("scan cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.scanErrors); got != 1 {
		t.Errorf("scan errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.anomalies.WithLabelValues("DOGE/USDT")); got != 2 {
		t.Errorf("anomalies = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.trackedSymbols); got != 42 {
		t.Errorf("tracked = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.suspended); got != 1 {
		t.Errorf("suspended = %v, want 1", got)
	}
	m.SetSuspended(false)
	if got := testutil.ToFloat64(m.suspended); got != 0 {
		t.Errorf("suspended = %v, want 0", got)
	}
}

func TestSessionMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.SessionStarted("pump")
	m.SessionStarted("pump")
	m.SessionStarted("spread")
	m.SessionFinished("pump", "total", 30*time.Second, 0.1, 0)
	m.SessionFinished("spread", "killed", time.Minute, 0, 2)

	if got := testutil.ToFloat64(m.activeSessions.WithLabelValues("pump")); got != 1 {
		t.Errorf("active pump = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions.WithLabelValues("spread")); got != 0 {
		t.Errorf("active spread = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.sessionOutcomes.WithLabelValues("pump", "total")); got != 1 {
		t.Errorf("pump total outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.estimatedProfit); got != 0.1 {
		t.Errorf("profit = %v, want 0.1", got)
	}
	if got := testutil.ToFloat64(m.leakedOrders); got != 2 {
		t.Errorf("leaked = %v, want 2", got)
	}
}

func TestOrderAndRetryMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.ObserveOrder(order.SideBuy, "placed")
	m.ObserveOrder(order.SideSell, "placed")
	m.ObserveOrder(order.SideSell, "canceled")
	m.ObserveRetry("market_buy")
	m.ObserveRetry("market_buy")

	if got := testutil.ToFloat64(m.orders.WithLabelValues("sell", "placed")); got != 1 {
		t.Errorf("sell placed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("market_buy")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(Config{Namespace: "test", Subsystem: "x"})
	m.RecordRESTRequest("fetch_tickers")
	m.RecordRESTError("fetch_tickers")
	m.RecordRESTLatency("fetch_tickers", 0.05)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`test_x_rest_requests_total{action="fetch_tickers"} 1`,
		`test_x_rest_errors_total{action="fetch_tickers"} 1`,
		"test_x_rest_latency_seconds_bucket",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
