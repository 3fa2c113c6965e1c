package market

import (
	"errors"
	"time"
)

// ErrThinBook 盘口不足两档，无法计算次优价与缺口。
var ErrThinBook = errors.New("order book needs at least two levels per side")

// Level 一档价格与数量。
type Level struct {
	Price  float64
	Volume float64
}

// OrderBook 一次拉取的深度快照，买卖两侧均按最优价在前排序。
type OrderBook struct {
	Pair      string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// BestAsk 返回卖一价；没有卖盘时第二个返回值为 false。
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// BestBid 返回买一价。
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (b OrderBook) Mid() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid + ask) / 2
}

// Depth 截取前 n 档（拷贝）。
func (b OrderBook) Depth(n int) (bids, asks []Level) {
	bids = append([]Level(nil), b.Bids[:min(n, len(b.Bids))]...)
	asks = append([]Level(nil), b.Asks[:min(n, len(b.Asks))]...)
	return bids, asks
}

// Top 买卖两侧的最优与次优价。
type Top struct {
	BestBid   float64
	SecondBid float64
	BestAsk   float64
	SecondAsk float64
}

// Top 提取前两档。
func (b OrderBook) Top() (Top, error) {
	if len(b.Bids) < 2 || len(b.Asks) < 2 {
		return Top{}, ErrThinBook
	}
	return Top{
		BestBid:   b.Bids[0].Price,
		SecondBid: b.Bids[1].Price,
		BestAsk:   b.Asks[0].Price,
		SecondAsk: b.Asks[1].Price,
	}, nil
}

// SpreadPct 买卖价差占买一价的百分比。
func (t Top) SpreadPct() float64 {
	if t.BestBid <= 0 {
		return 0
	}
	return (t.BestAsk - t.BestBid) / t.BestBid * 100
}

// BidGap 买一与买二的相对缺口（比例，不是百分比）。
func (t Top) BidGap() float64 {
	if t.SecondBid <= 0 {
		return 0
	}
	return (t.BestBid - t.SecondBid) / t.SecondBid
}

// AskGap 卖二与卖一的相对缺口（比例）。
func (t Top) AskGap() float64 {
	if t.BestAsk <= 0 {
		return 0
	}
	return (t.SecondAsk - t.BestAsk) / t.BestAsk
}
