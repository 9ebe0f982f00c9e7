package dsp

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"bandlight/types"
)

// PreprocessConfig controls per-channel conditioning.
type PreprocessConfig struct {
	ScaleFactor float64    // applied before DC removal
	BandPass    [2]float64 // Hz
	BandStop    [2]float64 // Hz, mains notch
	Order       int
	Denoise     bool // wavelet artifact removal after filtering
}

func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		ScaleFactor: 1,
		BandPass:    [2]float64{1, 50},
		BandStop:    [2]float64{49, 51},
		Order:       4,
	}
}

// Preprocessor removes DC offset and applies zero-phase band-pass and
// band-stop filters to every channel independently.
type Preprocessor struct {
	cfg PreprocessConfig
	log zerolog.Logger

	// filters designed for fs; redesigned when the sampling rate changes
	fs        float64
	bp, bs    SOS
	designErr error
}

func NewPreprocessor(cfg PreprocessConfig, log zerolog.Logger) *Preprocessor {
	if cfg.ScaleFactor == 0 {
		cfg.ScaleFactor = 1
	}
	if cfg.Order == 0 {
		cfg.Order = 4
	}
	return &Preprocessor{cfg: cfg, log: log}
}

// Preprocess returns a window of the same shape as w. Rows that fail keep
// their original samples and are reported as *types.ChannelError wrapping
// types.ErrPreprocessing; callers must exclude them. w is not modified.
func (p *Preprocessor) Preprocess(w types.Window) (types.Window, []*types.ChannelError) {
	out := w.Clone()
	var failed []*types.ChannelError
	for i, row := range w.Data {
		y, err := p.Channel(row, w.SamplingRate)
		if err != nil {
			failed = append(failed, &types.ChannelError{
				Row:     i,
				Channel: w.ChannelLabel(i),
				Stage:   "preprocess",
				Err:     err,
			})
			continue
		}
		out.Data[i] = y
	}
	return out, failed
}

// Channel conditions one channel sampled at fs.
func (p *Preprocessor) Channel(x []float64, fs float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty channel", types.ErrPreprocessing)
	}
	if !finite(x) {
		return nil, fmt.Errorf("%w: non-finite samples", types.ErrPreprocessing)
	}
	if err := p.design(fs); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPreprocessing, err)
	}

	y := make([]float64, len(x))
	var mean float64
	for i, v := range x {
		y[i] = v * p.cfg.ScaleFactor
		mean += y[i]
	}
	mean /= float64(len(y))
	for i := range y {
		y[i] -= mean
	}

	y, err := p.bp.FiltFilt(y)
	if err != nil {
		return nil, fmt.Errorf("%w: band-pass: %v", types.ErrPreprocessing, err)
	}
	y, err = p.bs.FiltFilt(y)
	if err != nil {
		return nil, fmt.Errorf("%w: band-stop: %v", types.ErrPreprocessing, err)
	}

	if p.cfg.Denoise {
		y = p.RemoveArtifacts(y)
	}
	return y, nil
}

// RemoveArtifacts zeroes the two coarsest detail levels of a 3-level db4
// decomposition. On any failure the input is returned unchanged and the
// failure is logged.
func (p *Preprocessor) RemoveArtifacts(x []float64) []float64 {
	y, err := SuppressArtifacts(x)
	if err != nil {
		p.log.Error().Err(err).Int("samples", len(x)).Msg("wavelet artifact removal failed")
		return x
	}
	return y
}

func (p *Preprocessor) design(fs float64) error {
	if fs == p.fs && (p.bp != nil || p.designErr != nil) {
		return p.designErr
	}
	p.fs = fs
	p.bp, p.bs, p.designErr = nil, nil, nil

	bp, err := ButterBandPass(p.cfg.Order, p.cfg.BandPass[0], p.cfg.BandPass[1], fs)
	if err != nil {
		p.designErr = fmt.Errorf("band-pass design: %w", err)
		return p.designErr
	}
	bs, err := ButterBandStop(p.cfg.Order, p.cfg.BandStop[0], p.cfg.BandStop[1], fs)
	if err != nil {
		p.designErr = fmt.Errorf("band-stop design: %w", err)
		return p.designErr
	}
	p.bp, p.bs = bp, bs
	return nil
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
