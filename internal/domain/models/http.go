package models

// Requests and responses for the REST endpoints.

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=32"`
	TF     string `query:"tf" json:"tf" default:"m1" validate:"required,timeframe"`
	Count  int    `query:"count" json:"count" default:"100" validate:"gte=1,lte=5000"`
}

type CandlesResponse struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Count     int      `json:"count"`
	Candles   []Candle `json:"candles"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	SourceConnected bool   `json:"source_connected"`
	Sessions        int    `json:"sessions"`
}

type TimeframeInfo struct {
	Name    string `json:"name"`
	Seconds int64  `json:"seconds"`
}
