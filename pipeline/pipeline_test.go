package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandlight/types"
)

const fs = 250.0

func toneWindow(channels, samples int, hz, amp float64) types.Window {
	w := types.Window{SamplingRate: fs, Data: make([][]float64, channels), Channels: make([]int, channels)}
	for c := range w.Data {
		w.Channels[c] = c + 1
		w.Data[c] = make([]float64, samples)
		for i := range w.Data[c] {
			w.Data[c][i] = amp * math.Sin(2*math.Pi*hz*float64(i)/fs)
		}
	}
	return w
}

func TestAggregate(t *testing.T) {
	mean, err := Aggregate([]float64{1, 2, 3, 6})
	require.NoError(t, err)
	assert.Equal(t, 3.0, mean)

	_, err = Aggregate(nil)
	assert.ErrorIs(t, err, types.ErrEmptyAggregation)
	_, err = Aggregate([]float64{})
	assert.ErrorIs(t, err, types.ErrEmptyAggregation)
}

func TestDecideIsStrict(t *testing.T) {
	tests := []struct {
		mean, threshold float64
		want            types.State
	}{
		{10.0, 10.0, types.Off},
		{10.000001, 10.0, types.On},
		{9.99, 10.0, types.Off},
		{0, 0, types.Off},
		{-1, -2, types.On},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.mean, tt.threshold), "mean=%v threshold=%v", tt.mean, tt.threshold)
	}
}

func TestAnalyzeTenHertzTurnsOn(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	res := a.Analyze(toneWindow(8, 256, 10, 50))
	require.NoError(t, res.Err)
	assert.Empty(t, res.ChannelErrors)
	require.NotNil(t, res.Reading.Decision)
	assert.Equal(t, types.On, *res.Reading.Decision)
	assert.Equal(t, "alpha", res.Reading.Band)
	assert.Equal(t, 8, res.Reading.Channels)
	assert.Greater(t, res.Reading.Mean, 10.0)
}

func TestAnalyzeSilenceTurnsOff(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	res := a.Analyze(toneWindow(8, 256, 10, 0))
	require.NoError(t, res.Err)
	require.NotNil(t, res.Reading.Decision)
	assert.Equal(t, types.Off, *res.Reading.Decision)
	assert.Equal(t, 0.0, res.Reading.Mean)
}

func TestAnalyzeReportBands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReportBands = types.DefaultBands()
	a, err := NewAnalyzer(cfg, zerolog.Nop())
	require.NoError(t, err)

	res := a.Analyze(toneWindow(4, 512, 20, 10))
	require.NoError(t, res.Err)
	// alpha is the decision band, so it is not repeated in the report
	require.Len(t, res.Reading.Others, 4)
	names := make([]string, 0, 4)
	for _, o := range res.Reading.Others {
		names = append(names, o.Band)
	}
	assert.Equal(t, []string{"delta", "theta", "beta", "gamma"}, names)
	assert.Greater(t, res.Reading.Others[2].Mean, res.Reading.Mean)
}

func TestAnalyzeExcludesFailedChannels(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	w := toneWindow(3, 256, 10, 50)
	w.Data[1][40] = math.NaN()

	res := a.Analyze(w)
	require.NoError(t, res.Err)
	require.Len(t, res.ChannelErrors, 1)
	assert.Equal(t, 2, res.ChannelErrors[0].Channel)
	assert.Equal(t, 2, res.Reading.Channels)
	require.NotNil(t, res.Reading.Decision)
	assert.Equal(t, types.On, *res.Reading.Decision)
}

func TestAnalyzeEmptyAggregationHasNoDecision(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	w := toneWindow(2, 256, 10, 50)
	w.Data[0][0] = math.Inf(1)
	w.Data[1][0] = math.NaN()

	res := a.Analyze(w)
	assert.True(t, errors.Is(res.Err, types.ErrEmptyAggregation))
	assert.Nil(t, res.Reading.Decision)
	assert.Len(t, res.ChannelErrors, 2)
}

func TestAnalyzeSkipsShortOrMalformedWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChannels = 8
	a, err := NewAnalyzer(cfg, zerolog.Nop())
	require.NoError(t, err)

	res := a.Analyze(toneWindow(4, 256, 10, 50))
	assert.ErrorIs(t, res.Err, types.ErrInsufficientData)
	assert.Nil(t, res.Reading.Decision)

	res = a.Analyze(types.Window{SamplingRate: fs})
	assert.ErrorIs(t, res.Err, types.ErrInsufficientData)
	assert.Nil(t, res.Reading.Decision)
}

func TestAnalyzeStampsReportTime(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	reported := time.Date(2024, 3, 1, 12, 0, 1, 24_000_000, time.UTC)
	a.now = func() time.Time { return reported }

	w := toneWindow(1, 256, 10, 1)
	w.Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res := a.Analyze(w)
	assert.Equal(t, reported, res.Reading.Time)

	res = a.Analyze(types.Window{SamplingRate: fs})
	assert.Equal(t, reported, res.Reading.Time)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.DecisionBand = types.Band{Name: "bad", Low: 5, High: 1}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ReportBands = []types.Band{{Name: "x", Low: -1, High: 2}}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinChannels = -1
	_, err := NewAnalyzer(cfg, zerolog.Nop())
	assert.Error(t, err)
}
