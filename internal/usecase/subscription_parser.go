package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"MTBridge/internal/domain/models"
)

// DefaultMaxCount caps the number of candles a single timeframe request may ask for.
const DefaultMaxCount = 5000

// ErrInvalidJSON is returned when a message is not JSON or not one of the accepted shapes.
var ErrInvalidJSON = errors.New("invalid JSON")

// ParseError describes a well-formed message with an unusable entry.
type ParseError struct {
	Symbol    string
	Timeframe string
	Reason    string
}

func (e *ParseError) Error() string {
	switch {
	case e.Symbol != "" && e.Timeframe != "":
		return fmt.Sprintf("symbol %s timeframe %s: %s", e.Symbol, e.Timeframe, e.Reason)
	case e.Symbol != "":
		return fmt.Sprintf("symbol %s: %s", e.Symbol, e.Reason)
	default:
		return e.Reason
	}
}

// SubscriptionParser turns a raw subscription message into typed specs.
// A message is accepted or rejected as a whole.
type SubscriptionParser struct {
	maxCount int
}

func NewSubscriptionParser(maxCount int) *SubscriptionParser {
	if maxCount < 1 {
		maxCount = DefaultMaxCount
	}
	return &SubscriptionParser{maxCount: maxCount}
}

// ParseSubscription parses with the default count cap.
func ParseSubscription(raw []byte) ([]models.SubscriptionSpec, error) {
	return NewSubscriptionParser(DefaultMaxCount).Parse(raw)
}

// Parse accepts either a bare array of entries or {"action":"subscribe","data":[...]}.
// Repeated symbols and repeated timeframes within a symbol keep the last occurrence.
func (p *SubscriptionParser) Parse(raw []byte) ([]models.SubscriptionSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, ErrInvalidJSON
	}
	if dec.More() {
		return nil, ErrInvalidJSON
	}

	entries, err := unwrapEntries(doc)
	if err != nil {
		return nil, err
	}

	specs := make([]models.SubscriptionSpec, 0, len(entries))
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		spec, err := p.parseEntry(i, e)
		if err != nil {
			return nil, err
		}
		if at, ok := index[spec.Symbol]; ok {
			specs[at] = spec
			continue
		}
		index[spec.Symbol] = len(specs)
		specs = append(specs, spec)
	}
	return specs, nil
}

func unwrapEntries(doc interface{}) ([]interface{}, error) {
	switch v := doc.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		if action, _ := v["action"].(string); action != "subscribe" {
			return nil, ErrInvalidJSON
		}
		data, ok := v["data"]
		if !ok || data == nil {
			return []interface{}{}, nil
		}
		list, ok := data.([]interface{})
		if !ok {
			return nil, ErrInvalidJSON
		}
		return list, nil
	default:
		return nil, ErrInvalidJSON
	}
}

func (p *SubscriptionParser) parseEntry(pos int, e interface{}) (models.SubscriptionSpec, error) {
	obj, ok := e.(map[string]interface{})
	if !ok {
		return models.SubscriptionSpec{}, &ParseError{Reason: fmt.Sprintf("entry %d is not an object", pos)}
	}

	sym, ok := obj["symbol"].(string)
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if !ok || sym == "" {
		return models.SubscriptionSpec{}, &ParseError{Reason: fmt.Sprintf("entry %d has no symbol", pos)}
	}

	spec := models.SubscriptionSpec{Symbol: sym, Live: true}
	if v, present := obj["live"]; present && v != nil {
		live, ok := v.(bool)
		if !ok {
			return models.SubscriptionSpec{}, &ParseError{Symbol: sym, Reason: "live must be a boolean"}
		}
		spec.Live = live
	}

	raw, present := obj["timeframes"]
	if !present || raw == nil {
		return spec, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return models.SubscriptionSpec{}, &ParseError{Symbol: sym, Reason: "timeframes must be an array"}
	}
	for _, item := range list {
		req, err := p.parseTimeframe(sym, item)
		if err != nil {
			return models.SubscriptionSpec{}, err
		}
		spec.SetTimeframe(req)
	}
	return spec, nil
}

func (p *SubscriptionParser) parseTimeframe(sym string, item interface{}) (models.TimeframeRequest, error) {
	parts, ok := item.([]interface{})
	if !ok || len(parts) == 0 || len(parts) > 3 {
		return models.TimeframeRequest{}, &ParseError{Symbol: sym, Reason: "timeframe entry must be [name, count?, always_send?]"}
	}
	name, ok := parts[0].(string)
	if !ok {
		return models.TimeframeRequest{}, &ParseError{Symbol: sym, Reason: "timeframe name must be a string"}
	}
	tf, err := models.ParseTimeframe(name)
	if err != nil {
		return models.TimeframeRequest{}, &ParseError{Symbol: sym, Timeframe: name, Reason: "unknown timeframe"}
	}

	req := models.TimeframeRequest{Timeframe: tf, Count: 1}
	if len(parts) >= 2 && parts[1] != nil {
		n, ok := integer(parts[1])
		if !ok {
			return models.TimeframeRequest{}, &ParseError{Symbol: sym, Timeframe: name, Reason: "count must be an integer"}
		}
		req.Count = p.clampCount(n)
	}
	if len(parts) == 3 && parts[2] != nil {
		always, ok := parts[2].(bool)
		if !ok {
			return models.TimeframeRequest{}, &ParseError{Symbol: sym, Timeframe: name, Reason: "always_send must be a boolean"}
		}
		req.AlwaysSend = always
	}
	return req, nil
}

func (p *SubscriptionParser) clampCount(n int64) int {
	if n < 1 {
		return 1
	}
	if n > int64(p.maxCount) {
		return p.maxCount
	}
	return int(n)
}

// integer accepts JSON numbers with no fractional part, including 5.0 and 1e2.
// Magnitudes beyond float64 saturate so the caller can clamp them.
func integer(v interface{}) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 {
		return math.MaxInt64, true
	}
	if f < math.MinInt64 {
		return math.MinInt64, true
	}
	return int64(f), true
}
