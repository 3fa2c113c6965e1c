package gateway

import (
	"fmt"
	"strings"
)

// Venue 交易所静态描述。
type Venue struct {
	Name              string
	BaseURL           string
	APIKeyHeader      string
	MarketBuyUsesCost bool
}

var venues = map[string]Venue{
	"mexc": {
		Name:              "mexc",
		BaseURL:           "https://api.mexc.com",
		APIKeyHeader:      "X-MEXC-APIKEY",
		MarketBuyUsesCost: true,
	},
	"binance": {
		Name:              "binance",
		BaseURL:           "https://api.binance.com",
		APIKeyHeader:      "X-MBX-APIKEY",
		MarketBuyUsesCost: true,
	},
	// 不支持 quoteOrderQty 的兼容站点，市价买按数量下单
	"binance-qty": {
		Name:              "binance-qty",
		BaseURL:           "https://api.binance.com",
		APIKeyHeader:      "X-MBX-APIKEY",
		MarketBuyUsesCost: false,
	},
}

// LookupVenue 按名称查交易所，名称不区分大小写。
func LookupVenue(name string) (Venue, error) {
	v, ok := venues[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Venue{}, fmt.Errorf("unsupported venue %q", name)
	}
	return v, nil
}

// VenueNames 返回所有已知交易所名称。
func VenueNames() []string {
	out := make([]string, 0, len(venues))
	for k := range venues {
		out = append(out, k)
	}
	return out
}
