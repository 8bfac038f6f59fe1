package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TimeframeCandles is the delta for one subscribed timeframe. Empty means nothing new.
type TimeframeCandles struct {
	Timeframe Timeframe
	Candles   []Candle
}

// SymbolPayload is one symbol's entry in a streamed message.
//
// The "live" key is written only when HasLive is set, as null when Live is nil.
// Timeframes are written as an object in slice order, every key present.
type SymbolPayload struct {
	Symbol     string
	HasLive    bool
	Live       *Quote
	Timeframes []TimeframeCandles
}

// Candles returns the delta for tf, or nil if tf is not part of the payload.
func (p SymbolPayload) Candles(tf Timeframe) ([]Candle, bool) {
	for _, tc := range p.Timeframes {
		if tc.Timeframe == tf {
			return tc.Candles, true
		}
	}
	return nil, false
}

// CandleCount is the number of candles across all timeframes.
func (p SymbolPayload) CandleCount() int {
	n := 0
	for _, tc := range p.Timeframes {
		n += len(tc.Candles)
	}
	return n
}

func (p SymbolPayload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"symbol":`)
	if err := writeJSON(&buf, p.Symbol); err != nil {
		return nil, err
	}
	if p.HasLive {
		buf.WriteString(`,"live":`)
		if err := writeJSON(&buf, p.Live); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`,"timeframes":{`)
	for i, tc := range p.Timeframes {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, tc.Timeframe.String()); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		candles := tc.Candles
		if candles == nil {
			candles = []Candle{}
		}
		if err := writeJSON(&buf, candles); err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tc.Timeframe, err)
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
