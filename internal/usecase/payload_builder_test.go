package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadBuilderFirstDeliveryAndDelta(t *testing.T) {
	src := newFakeSource()
	src.setCandles("EURUSD", models.TFM1, bars(models.TFM1, 600, 5)...)
	src.setQuote("EURUSD", &models.Quote{Ask: 1.2, Bid: 1.1})
	b := NewPayloadBuilder(time.Second, nil)
	spec := mustSpec("EURUSD", true, tfReq(models.TFM1, 3, false))

	p, st := b.Build(context.Background(), spec, nil, src)
	assert.True(t, p.HasLive)
	require.NotNil(t, p.Live)
	assert.Equal(t, 1.2, p.Live.Ask)
	c, _ := p.Candles(models.TFM1)
	require.Len(t, c, 3)
	assert.Equal(t, int64(480), c[0].Time)
	assert.Equal(t, int64(600), c[2].Time)
	assert.Equal(t, models.DeliveryStates{models.TFM1: 600}, st)

	// same newest candle: nothing new
	p, st2 := b.Build(context.Background(), spec, st, src)
	c, ok := p.Candles(models.TFM1)
	assert.True(t, ok, "timeframe key stays present")
	assert.Empty(t, c)
	assert.NotNil(t, c)
	assert.Equal(t, st, st2)

	// a new bar closes
	src.setCandles("EURUSD", models.TFM1, bars(models.TFM1, 660, 5)...)
	p, st3 := b.Build(context.Background(), spec, st2, src)
	c, _ = p.Candles(models.TFM1)
	require.Len(t, c, 3)
	assert.Equal(t, int64(660), c[2].Time)
	assert.Equal(t, int64(660), st3[models.TFM1])
}

func TestPayloadBuilderAlwaysSend(t *testing.T) {
	src := newFakeSource()
	src.setCandles("X", models.TFH1, bars(models.TFH1, 7200, 2)...)
	b := NewPayloadBuilder(0, nil)
	spec := mustSpec("X", false, tfReq(models.TFH1, 2, true))

	_, st := b.Build(context.Background(), spec, nil, src)
	p, st2 := b.Build(context.Background(), spec, st, src)
	c, _ := p.Candles(models.TFH1)
	assert.Len(t, c, 2, "always_send repeats unchanged candles")
	assert.Equal(t, st, st2, "state only advances on a strictly newer candle")
}

func TestPayloadBuilderDoesNotGoBackwards(t *testing.T) {
	src := newFakeSource()
	src.setCandles("X", models.TFM5, bars(models.TFM5, 300, 1)...)
	b := NewPayloadBuilder(0, nil)
	spec := mustSpec("X", false, tfReq(models.TFM5, 1, false))

	prev := models.DeliveryStates{models.TFM5: 900}
	p, st := b.Build(context.Background(), spec, prev, src)
	c, _ := p.Candles(models.TFM5)
	assert.Empty(t, c)
	assert.Equal(t, int64(900), st[models.TFM5])
}

func TestPayloadBuilderLiveOmitted(t *testing.T) {
	src := newFakeSource()
	src.setQuote("X", &models.Quote{Ask: 1})
	b := NewPayloadBuilder(0, nil)

	p, _ := b.Build(context.Background(), mustSpec("X", false), nil, src)
	assert.False(t, p.HasLive)
	assert.Nil(t, p.Live)
	assert.Zero(t, src.quoteCalls.Load(), "quote not fetched when live is off")
	assert.NotNil(t, p.Timeframes)
}

func TestPayloadBuilderSourceErrors(t *testing.T) {
	src := newFakeSource()
	src.candleErr = errors.New("terminal down")
	src.quoteErr = errors.New("terminal down")
	m := newFakeMetrics()
	b := NewPayloadBuilder(0, m)
	spec := mustSpec("X", true, tfReq(models.TFM1, 5, true), tfReq(models.TFH1, 5, false))

	prev := models.DeliveryStates{models.TFM1: 60}
	p, st := b.Build(context.Background(), spec, prev, src)
	assert.True(t, p.HasLive)
	assert.Nil(t, p.Live, "quote failure degrades to null")
	require.Len(t, p.Timeframes, 2)
	for _, tc := range p.Timeframes {
		assert.Empty(t, tc.Candles)
	}
	assert.Equal(t, prev, st)
	assert.Equal(t, 2, m.errorCount("source_candles"))
	assert.Equal(t, 1, m.errorCount("source_quote"))
}

func TestPayloadBuilderUnavailableSymbolIsQuiet(t *testing.T) {
	src := newFakeSource()
	src.candleErr = domrepo.ErrSymbolUnavailable
	m := newFakeMetrics()
	p, _ := NewPayloadBuilder(0, m).Build(context.Background(), mustSpec("NOPE", false, tfReq(models.TFM1, 1, false)), nil, src)
	require.Len(t, p.Timeframes, 1)
	assert.Empty(t, p.Timeframes[0].Candles)
	assert.Zero(t, m.errorCount("source_candles"))
}

func TestPayloadBuilderMissingQuote(t *testing.T) {
	b := NewPayloadBuilder(0, nil)
	p, _ := b.Build(context.Background(), mustSpec("NOPE", true), nil, newFakeSource())
	assert.True(t, p.HasLive)
	assert.Nil(t, p.Live)
}

func TestPayloadBuilderTrimsToCount(t *testing.T) {
	src := &overfetchSource{fakeSource: newFakeSource()}
	src.setCandles("X", models.TFM1, bars(models.TFM1, 600, 10)...)
	b := NewPayloadBuilder(0, nil)

	p, _ := b.Build(context.Background(), mustSpec("X", false, tfReq(models.TFM1, 2, false)), nil, src)
	c, _ := p.Candles(models.TFM1)
	require.Len(t, c, 2)
	assert.Equal(t, int64(600), c[1].Time)
}

func TestPayloadBuilderFetchTimeout(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	defer close(src.block)
	m := newFakeMetrics()
	b := NewPayloadBuilder(20*time.Millisecond, m)

	start := time.Now()
	p, _ := b.Build(context.Background(), mustSpec("X", false, tfReq(models.TFM1, 1, false)), nil, src)
	assert.Less(t, time.Since(start), time.Second)
	c, _ := p.Candles(models.TFM1)
	assert.Empty(t, c)
	assert.Equal(t, 1, m.errorCount("source_candles"))
}

func TestPayloadBuilderKeepsStatesInput(t *testing.T) {
	src := newFakeSource()
	src.setCandles("X", models.TFM1, bars(models.TFM1, 600, 1)...)
	b := NewPayloadBuilder(0, nil)

	prev := models.DeliveryStates{models.TFM1: 60}
	_, next := b.Build(context.Background(), mustSpec("X", false, tfReq(models.TFM1, 1, false)), prev, src)
	assert.Equal(t, int64(60), prev[models.TFM1])
	assert.Equal(t, int64(600), next[models.TFM1])
}

// overfetchSource ignores count, like a source returning its whole window.
type overfetchSource struct{ *fakeSource }

func (o *overfetchSource) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, _ int) ([]models.Candle, error) {
	return o.fakeSource.GetCandles(ctx, symbol, tf, 1<<20)
}
