package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	xhttp "MTBridge/pkg/http"
)

// Client reads market data from the terminal gateway's HTTP API.
//
//	GET /rates?symbol=EURUSD&timeframe=M15&start=1&count=10
//	GET /tick?symbol=EURUSD
//	GET /health
//
// Rates are requested from position 1 so the bar still forming is never included.
type Client struct {
	http *xhttp.Client
}

type rate struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
}

type tick struct {
	Ask float64 `json:"ask"`
	Bid float64 `json:"bid"`
}

func New(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *Client {
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &Client{http: xhttp.NewClient(baseURL, opts...)}
}

func (c *Client) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	var rates []rate
	err := c.http.GetJSON(ctx, "/rates", url.Values{
		"symbol":    {symbol},
		"timeframe": {tf.Upper()},
		"start":     {"1"},
		"count":     {strconv.Itoa(count)},
	}, &rates)
	if err != nil {
		if xhttp.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("gateway rates %s: %w", symbol, domrepo.ErrSymbolUnavailable)
		}
		return nil, fmt.Errorf("gateway rates %s %s: %w", symbol, tf, err)
	}

	out := make([]models.Candle, 0, len(rates))
	for _, r := range rates {
		out = append(out, models.Candle{
			Time:       r.Time,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			TickVolume: r.TickVolume,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// GetQuote returns nil when the gateway has no tick for the symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var t *tick
	err := c.http.GetJSON(ctx, "/tick", url.Values{"symbol": {symbol}}, &t)
	if err != nil {
		if xhttp.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateway tick %s: %w", symbol, err)
	}
	if t == nil {
		return nil, nil
	}
	return &models.Quote{Ask: t.Ask, Bid: t.Bid}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.http.GetJSON(ctx, "/health", nil, nil)
}

var (
	_ domrepo.MarketDataSource = (*Client)(nil)
	_ domrepo.HealthChecker    = (*Client)(nil)
)
