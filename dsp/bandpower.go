package dsp

import (
	"fmt"

	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"

	"bandlight/types"
)

const (
	welchSegment = 256
	welchOverlap = welchSegment / 2
)

// PSD is a one-sided power spectral density estimate.
type PSD struct {
	Freqs []float64 // Hz
	Power []float64 // units²/Hz
}

// Welch estimates the PSD of x with 256-sample Hann segments overlapping by
// 128. Inputs shorter than one segment are zero-padded to 256 samples.
func Welch(x []float64, fs float64) (PSD, error) {
	if len(x) == 0 {
		return PSD{}, fmt.Errorf("%w: empty channel", types.ErrInsufficientData)
	}
	if !(fs > 0) {
		return PSD{}, fmt.Errorf("%w: sampling rate %v", types.ErrSpectralEstimation, fs)
	}
	if !finite(x) {
		return PSD{}, fmt.Errorf("%w: non-finite samples", types.ErrSpectralEstimation)
	}

	// Pwelch windows its segments in place
	buf := append([]float64(nil), x...)
	pxx, freqs := spectral.Pwelch(buf, fs, &spectral.PwelchOptions{
		NFFT:     welchSegment,
		Noverlap: welchOverlap,
		Window:   window.Hann,
	})
	if len(pxx) == 0 || len(pxx) != len(freqs) {
		return PSD{}, fmt.Errorf("%w: no spectrum produced", types.ErrSpectralEstimation)
	}
	return PSD{Freqs: freqs, Power: pxx}, nil
}

// BandPower integrates the PSD over bins inside [b.Low, b.High] with the
// trapezoidal rule.
func (p PSD) BandPower(b types.Band) float64 {
	var total float64
	for i := 0; i+1 < len(p.Freqs); i++ {
		f0, f1 := p.Freqs[i], p.Freqs[i+1]
		if f0 < b.Low || f1 > b.High {
			continue
		}
		total += (f1 - f0) * (p.Power[i] + p.Power[i+1]) / 2
	}
	if total < 0 {
		return 0
	}
	return total
}

// BandPower returns the power of x in band b.
func BandPower(x []float64, fs float64, b types.Band) (float64, error) {
	out, err := BandPowers(x, fs, []types.Band{b})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// BandPowers estimates one PSD for x and integrates it over each band.
func BandPowers(x []float64, fs float64, bands []types.Band) ([]float64, error) {
	for _, b := range bands {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrSpectralEstimation, err)
		}
		if b.High > fs/2 {
			return nil, fmt.Errorf("%w: band %s above Nyquist %g Hz", types.ErrSpectralEstimation, b.Name, fs/2)
		}
	}
	psd, err := Welch(x, fs)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(bands))
	for i, b := range bands {
		out[i] = psd.BandPower(b)
	}
	return out, nil
}
