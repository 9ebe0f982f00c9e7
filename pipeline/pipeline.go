package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bandlight/dsp"
	"bandlight/types"
)

const DefaultThreshold = 10.0

// Config parameterises one analysis pass. Report bands are computed from the
// same per-channel PSD as the decision band but never drive actuation.
type Config struct {
	DecisionBand types.Band
	ReportBands  []types.Band
	Threshold    float64
	Preprocess   dsp.PreprocessConfig
	// MinChannels skips windows with fewer rows; zero disables the check.
	MinChannels int
}

func DefaultConfig() Config {
	return Config{
		DecisionBand: types.Alpha,
		Threshold:    DefaultThreshold,
		Preprocess:   dsp.DefaultPreprocessConfig(),
	}
}

func (c Config) Validate() error {
	if err := c.DecisionBand.Validate(); err != nil {
		return fmt.Errorf("decision band: %w", err)
	}
	for _, b := range c.ReportBands {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("report band: %w", err)
		}
	}
	if c.MinChannels < 0 {
		return fmt.Errorf("min channels must not be negative, got %d", c.MinChannels)
	}
	return nil
}

// Aggregate returns the arithmetic mean of the per-channel powers.
func Aggregate(powers []float64) (float64, error) {
	if len(powers) == 0 {
		return 0, types.ErrEmptyAggregation
	}
	var sum float64
	for _, p := range powers {
		sum += p
	}
	return sum / float64(len(powers)), nil
}

// Decide turns the light on only when mean is strictly above threshold.
func Decide(mean, threshold float64) types.State {
	if mean > threshold {
		return types.On
	}
	return types.Off
}

// Result is the outcome of analysing one window. Reading.Decision is nil when
// no decision could be made; Err then says why.
type Result struct {
	Reading       types.Reading
	ChannelErrors []*types.ChannelError
	Err           error
}

// Analyzer runs preprocessing, band power estimation, aggregation and the
// threshold decision over successive windows.
type Analyzer struct {
	cfg   Config
	bands []types.Band
	pre   *dsp.Preprocessor
	log   zerolog.Logger
	now   func() time.Time
}

func NewAnalyzer(cfg Config, log zerolog.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bands := []types.Band{cfg.DecisionBand}
	for _, b := range cfg.ReportBands {
		if b.Name != cfg.DecisionBand.Name {
			bands = append(bands, b)
		}
	}
	return &Analyzer{
		cfg:   cfg,
		bands: bands,
		pre:   dsp.NewPreprocessor(cfg.Preprocess, log),
		log:   log,
		now:   time.Now,
	}, nil
}

func (a *Analyzer) Threshold() float64 { return a.cfg.Threshold }

func (a *Analyzer) DecisionBand() types.Band { return a.cfg.DecisionBand }

// ExpectChannels raises the minimum row count of accepted windows to n.
func (a *Analyzer) ExpectChannels(n int) {
	if n > a.cfg.MinChannels {
		a.cfg.MinChannels = n
	}
}

// Analyze processes one window. The reading is stamped with the time of
// analysis, not the window start. Failures confined to a channel exclude that
// channel; failures affecting the whole window leave Reading.Decision nil.
func (a *Analyzer) Analyze(w types.Window) Result {
	res := Result{Reading: types.Reading{Time: a.now(), Band: a.cfg.DecisionBand.Name}}

	if err := w.Validate(); err != nil {
		res.Err = fmt.Errorf("%w: %v", types.ErrInsufficientData, err)
		return res
	}
	if rows, _ := w.Shape(); rows < a.cfg.MinChannels {
		res.Err = fmt.Errorf("%w: window has %d channels, expected %d", types.ErrInsufficientData, rows, a.cfg.MinChannels)
		return res
	}

	clean, failed := a.pre.Preprocess(w)
	res.ChannelErrors = failed
	skip := make(map[int]bool, len(failed))
	for _, f := range failed {
		skip[f.Row] = true
	}

	per := make([][]float64, len(a.bands))
	for i, row := range clean.Data {
		if skip[i] {
			continue
		}
		powers, err := dsp.BandPowers(row, clean.SamplingRate, a.bands)
		if err != nil {
			res.ChannelErrors = append(res.ChannelErrors, &types.ChannelError{
				Row:     i,
				Channel: clean.ChannelLabel(i),
				Stage:   "band power",
				Err:     err,
			})
			continue
		}
		for j, p := range powers {
			per[j] = append(per[j], p)
		}
	}

	mean, err := Aggregate(per[0])
	if err != nil {
		res.Err = err
		return res
	}
	res.Reading.Mean = mean
	res.Reading.Channels = len(per[0])
	for j, b := range a.bands[1:] {
		m, _ := Aggregate(per[j+1])
		res.Reading.Others = append(res.Reading.Others, types.BandMean{Band: b.Name, Mean: m})
	}

	state := Decide(mean, a.cfg.Threshold)
	res.Reading.Decision = &state
	return res
}
