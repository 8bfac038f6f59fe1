package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a canonical lowercase bar period name, e.g. "m15".
type Timeframe string

const (
	TFM1  Timeframe = "m1"
	TFM2  Timeframe = "m2"
	TFM3  Timeframe = "m3"
	TFM4  Timeframe = "m4"
	TFM5  Timeframe = "m5"
	TFM6  Timeframe = "m6"
	TFM10 Timeframe = "m10"
	TFM12 Timeframe = "m12"
	TFM15 Timeframe = "m15"
	TFM20 Timeframe = "m20"
	TFM30 Timeframe = "m30"
	TFH1  Timeframe = "h1"
	TFH2  Timeframe = "h2"
	TFH3  Timeframe = "h3"
	TFH4  Timeframe = "h4"
	TFH6  Timeframe = "h6"
	TFH8  Timeframe = "h8"
	TFH12 Timeframe = "h12"
	TFD1  Timeframe = "d1"
	TFW1  Timeframe = "w1"
	TFMN1 Timeframe = "mn1"
)

var allTimeframes = []Timeframe{
	TFM1, TFM2, TFM3, TFM4, TFM5, TFM6, TFM10, TFM12, TFM15, TFM20, TFM30,
	TFH1, TFH2, TFH3, TFH4, TFH6, TFH8, TFH12,
	TFD1, TFW1, TFMN1,
}

// MN1 is treated as a fixed 30 day period.
var timeframeSeconds = map[Timeframe]int64{
	TFM1:  60,
	TFM2:  120,
	TFM3:  180,
	TFM4:  240,
	TFM5:  300,
	TFM6:  360,
	TFM10: 600,
	TFM12: 720,
	TFM15: 900,
	TFM20: 1200,
	TFM30: 1800,
	TFH1:  3600,
	TFH2:  7200,
	TFH3:  10800,
	TFH4:  14400,
	TFH6:  21600,
	TFH8:  28800,
	TFH12: 43200,
	TFD1:  86400,
	TFW1:  604800,
	TFMN1: 2592000,
}

// UnknownTimeframeError reports a timeframe name outside the supported set.
type UnknownTimeframeError struct {
	Name string
}

func (e *UnknownTimeframeError) Error() string {
	return fmt.Sprintf("unknown timeframe %q", e.Name)
}

// ParseTimeframe resolves a timeframe name case-insensitively.
// Unknown names are rejected, never substituted.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", &UnknownTimeframeError{Name: s}
	}
	return tf, nil
}

// AllTimeframes returns the supported timeframes, shortest first.
func AllTimeframes() []Timeframe {
	out := make([]Timeframe, len(allTimeframes))
	copy(out, allTimeframes)
	return out
}

// IsValid reports whether tf is one of the supported timeframes.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// Seconds returns the bar length in seconds, 0 for an invalid timeframe.
func (tf Timeframe) Seconds() int64 { return timeframeSeconds[tf] }

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Upper returns the terminal-side spelling, e.g. "M15".
func (tf Timeframe) Upper() string { return strings.ToUpper(string(tf)) }

func (tf Timeframe) String() string { return string(tf) }
