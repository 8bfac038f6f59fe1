package models

// TimeframeRequest is one timeframe a client wants for a symbol.
type TimeframeRequest struct {
	Timeframe  Timeframe
	Count      int
	AlwaysSend bool
}

// SubscriptionSpec is the full request for one symbol.
// Timeframes holds each timeframe at most once, in first-seen order.
type SubscriptionSpec struct {
	Symbol     string
	Live       bool
	Timeframes []TimeframeRequest
}

// SetTimeframe adds r, replacing an earlier request for the same timeframe in place.
func (s *SubscriptionSpec) SetTimeframe(r TimeframeRequest) {
	for i := range s.Timeframes {
		if s.Timeframes[i].Timeframe == r.Timeframe {
			s.Timeframes[i] = r
			return
		}
	}
	s.Timeframes = append(s.Timeframes, r)
}

// Timeframe returns the request for tf if subscribed.
func (s SubscriptionSpec) Timeframe(tf Timeframe) (TimeframeRequest, bool) {
	for _, r := range s.Timeframes {
		if r.Timeframe == tf {
			return r, true
		}
	}
	return TimeframeRequest{}, false
}

// DeliveryStates maps a timeframe to the open time of the newest candle already
// delivered for it. A missing key means nothing was delivered yet.
type DeliveryStates map[Timeframe]int64

func (d DeliveryStates) Clone() DeliveryStates {
	out := make(DeliveryStates, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
