package usecase

import (
	"errors"
	"testing"

	"MTBridge/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriptionShapes(t *testing.T) {
	bare := `[{"symbol":"eurusd","live":false,"timeframes":[["M1",3,true],["h1",2]]}]`
	wrapped := `{"action":"subscribe","data":` + bare + `}`

	for name, raw := range map[string]string{"bare": bare, "wrapped": wrapped} {
		t.Run(name, func(t *testing.T) {
			specs, err := ParseSubscription([]byte(raw))
			require.NoError(t, err)
			require.Len(t, specs, 1)
			assert.Equal(t, models.SubscriptionSpec{
				Symbol: "EURUSD",
				Live:   false,
				Timeframes: []models.TimeframeRequest{
					{Timeframe: models.TFM1, Count: 3, AlwaysSend: true},
					{Timeframe: models.TFH1, Count: 2},
				},
			}, specs[0])
		})
	}
}

func TestParseSubscriptionDefaults(t *testing.T) {
	specs, err := ParseSubscription([]byte(`[{"symbol":"XAUUSD","timeframes":[["m5"]]},{"symbol":"BTCUSD","live":null}]`))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.True(t, specs[0].Live)
	assert.Equal(t, []models.TimeframeRequest{{Timeframe: models.TFM5, Count: 1}}, specs[0].Timeframes)

	assert.True(t, specs[1].Live)
	assert.Empty(t, specs[1].Timeframes)
}

func TestParseSubscriptionEmpty(t *testing.T) {
	for _, raw := range []string{`[]`, `{"action":"subscribe"}`, `{"action":"subscribe","data":null}`, `{"action":"subscribe","data":[]}`} {
		specs, err := ParseSubscription([]byte(raw))
		require.NoError(t, err, raw)
		assert.Empty(t, specs, raw)
	}
}

func TestParseSubscriptionCountClamp(t *testing.T) {
	p := NewSubscriptionParser(100)
	specs, err := p.Parse([]byte(`[{"symbol":"A","timeframes":[["m1",0],["m5",-7],["h1",1000],["h4",5.0],["d1",1e1]]}]`))
	require.NoError(t, err)
	got := map[models.Timeframe]int{}
	for _, r := range specs[0].Timeframes {
		got[r.Timeframe] = r.Count
	}
	assert.Equal(t, map[models.Timeframe]int{
		models.TFM1: 1,
		models.TFM5: 1,
		models.TFH1: 100,
		models.TFH4: 5,
		models.TFD1: 10,
	}, got)

	specs, err = ParseSubscription([]byte(`[{"symbol":"A","timeframes":[["m1",99999999999999999999]]}]`))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCount, specs[0].Timeframes[0].Count)

	specs, err = ParseSubscription([]byte(`[{"symbol":"A","timeframes":[["m1",1e400],["m5",-1e400]]}]`))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCount, specs[0].Timeframes[0].Count)
	assert.Equal(t, 1, specs[0].Timeframes[1].Count)
}

func TestParseSubscriptionNullsTakeDefaults(t *testing.T) {
	specs, err := ParseSubscription([]byte(`[{"symbol":"A","timeframes":[["m1",null],["m5",3,null]]}]`))
	require.NoError(t, err)
	require.Len(t, specs[0].Timeframes, 2)
	assert.Equal(t, models.TimeframeRequest{Timeframe: models.TFM1, Count: 1}, specs[0].Timeframes[0])
	assert.Equal(t, models.TimeframeRequest{Timeframe: models.TFM5, Count: 3}, specs[0].Timeframes[1])
}

func TestParseSubscriptionDuplicates(t *testing.T) {
	raw := `[
		{"symbol":"EURUSD","timeframes":[["m1",1]]},
		{"symbol":"GBPUSD","timeframes":[["m1",1]]},
		{"symbol":"eurusd","live":false,"timeframes":[["h1",5],["m5",2],["H1",9,true]]}
	]`
	specs, err := ParseSubscription([]byte(raw))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "EURUSD", specs[0].Symbol, "first-seen position kept")
	assert.False(t, specs[0].Live, "last occurrence wins")
	assert.Equal(t, []models.TimeframeRequest{
		{Timeframe: models.TFH1, Count: 9, AlwaysSend: true},
		{Timeframe: models.TFM5, Count: 2},
	}, specs[0].Timeframes)
	assert.Equal(t, "GBPUSD", specs[1].Symbol)
}

func TestParseSubscriptionInvalidJSON(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"action":"subscribe","data":[}`,
		`[] []`,
		`"EURUSD"`,
		`42`,
		`{"action":"unsubscribe","data":[]}`,
		`{"data":[]}`,
		`{"action":"subscribe","data":{"symbol":"A"}}`,
	} {
		_, err := ParseSubscription([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidJSON, raw)
	}
}

func TestParseSubscriptionRejectsWholeMessage(t *testing.T) {
	cases := map[string]string{
		"entry not object":   `[{"symbol":"A"}, 5]`,
		"missing symbol":     `[{"timeframes":[["m1"]]}]`,
		"blank symbol":       `[{"symbol":"  "}]`,
		"symbol not string":  `[{"symbol":7}]`,
		"live not bool":      `[{"symbol":"A","live":"yes"}]`,
		"timeframes object":  `[{"symbol":"A","timeframes":{"m1":1}}]`,
		"tf not array":       `[{"symbol":"A","timeframes":["m1"]}]`,
		"tf empty":           `[{"symbol":"A","timeframes":[[]]}]`,
		"tf too long":        `[{"symbol":"A","timeframes":[["m1",1,true,1]]}]`,
		"tf name not string": `[{"symbol":"A","timeframes":[[1]]}]`,
		"unknown tf":         `[{"symbol":"A","timeframes":[["m1"]]},{"symbol":"B","timeframes":[["m7"]]}]`,
		"count fractional":   `[{"symbol":"A","timeframes":[["m1",1.5]]}]`,
		"count string":       `[{"symbol":"A","timeframes":[["m1","10"]]}]`,
		"always not bool":    `[{"symbol":"A","timeframes":[["m1",1,1]]}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			specs, err := ParseSubscription([]byte(raw))
			require.Error(t, err)
			assert.Nil(t, specs)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "want ParseError, got %v", err)
		})
	}
}

func TestParseErrorMessage(t *testing.T) {
	_, err := ParseSubscription([]byte(`[{"symbol":"eurusd","timeframes":[["x9"]]}]`))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "EURUSD", pe.Symbol)
	assert.Equal(t, "x9", pe.Timeframe)
	assert.Equal(t, "symbol EURUSD timeframe x9: unknown timeframe", pe.Error())

	assert.Equal(t, "symbol A: boom", (&ParseError{Symbol: "A", Reason: "boom"}).Error())
	assert.Equal(t, "boom", (&ParseError{Reason: "boom"}).Error())
}
