package models

import "time"

// Candle is one closed OHLC bar. Time is the bar open time in unix seconds (UTC).
type Candle struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
}

func (c Candle) OpenTime() time.Time { return time.Unix(c.Time, 0).UTC() }

// Quote is the current best ask/bid for a symbol.
type Quote struct {
	Ask float64 `json:"ask"`
	Bid float64 `json:"bid"`
}

// Bar is a candle tagged with its series, as carried on the feed topic.
type Bar struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" validate:"required"`
	Candle    Candle `json:"candle"`
}

// QuoteTick is a quote tagged with its symbol, as carried on the feed topic.
type QuoteTick struct {
	Symbol string  `json:"symbol" validate:"required"`
	Ask    float64 `json:"ask" validate:"gte=0"`
	Bid    float64 `json:"bid" validate:"gte=0"`
}
