package acquisition

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"bandlight/types"
)

// Tone is one sinusoidal component of the synthetic signal.
type Tone struct {
	Hz        float64
	Amplitude float64
}

// SyntheticConfig describes a generated headset. Every channel carries the
// same tones with a per-channel phase offset plus deterministic noise.
type SyntheticConfig struct {
	Channels     int
	SamplingRate float64
	Tones        []Tone
	Noise        float64 // peak noise amplitude
	Offset       float64 // DC offset added to every sample
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Channels:     8,
		SamplingRate: 250,
		Tones:        []Tone{{Hz: 10, Amplitude: 20}, {Hz: 22, Amplitude: 5}},
		Noise:        2,
		Offset:       100,
	}
}

func (c SyntheticConfig) Validate() error {
	if c.Channels <= 0 {
		return fmt.Errorf("synthetic board needs at least one channel, got %d", c.Channels)
	}
	if !(c.SamplingRate > 0) {
		return fmt.Errorf("invalid sampling rate %v", c.SamplingRate)
	}
	for _, t := range c.Tones {
		if t.Hz < 0 || t.Hz >= c.SamplingRate/2 {
			return fmt.Errorf("tone %g Hz outside [0, %g)", t.Hz, c.SamplingRate/2)
		}
	}
	return nil
}

// SyntheticBoard generates signals on the fly, paced by the wall clock.
type SyntheticBoard struct {
	cfg   SyntheticConfig
	clock func() time.Time
}

func NewSyntheticBoard(cfg SyntheticConfig) *SyntheticBoard {
	return &SyntheticBoard{cfg: cfg, clock: time.Now}
}

func (b *SyntheticBoard) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAcquisition, err)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAcquisition, err)
	}
	return &syntheticSession{cfg: b.cfg, clock: b.clock, channels: channelRange(b.cfg.Channels)}, nil
}

type syntheticSession struct {
	cfg      SyntheticConfig
	clock    func() time.Time
	channels []int

	mu        sync.Mutex
	started   time.Time
	streaming bool
	released  bool
}

func (s *syntheticSession) StartStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: session released", types.ErrAcquisition)
	}
	if s.streaming {
		return nil
	}
	s.started = s.clock()
	s.streaming = true
	return nil
}

// LatestWindow returns the n samples ending at the current sample clock. The
// signal is defined for every sample index, so a window is always full even
// right after the stream starts.
func (s *syntheticSession) LatestWindow(ctx context.Context, n int) (types.Window, error) {
	if err := ctx.Err(); err != nil {
		return types.Window{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return types.Window{}, fmt.Errorf("%w: stream not started", types.ErrAcquisition)
	}
	if n <= 0 {
		return types.Window{}, fmt.Errorf("%w: window length %d", types.ErrAcquisition, n)
	}

	now := s.clock()
	end := int64(math.Floor(float64(now.Sub(s.started).Nanoseconds()) * s.cfg.SamplingRate / 1e9))
	first := end - int64(n)

	w := types.Window{
		Data:         make([][]float64, len(s.channels)),
		SamplingRate: s.cfg.SamplingRate,
		Channels:     append([]int(nil), s.channels...),
		Start:        s.started.Add(sampleOffset(first, s.cfg.SamplingRate)),
	}
	for c := range w.Data {
		row := make([]float64, n)
		for i := range row {
			row[i] = s.sample(c, first+int64(i))
		}
		w.Data[c] = row
	}
	return w, nil
}

func (s *syntheticSession) sample(ch int, k int64) float64 {
	t := float64(k) / s.cfg.SamplingRate
	v := s.cfg.Offset
	phase := float64(ch) * math.Pi / 8
	for _, tone := range s.cfg.Tones {
		v += tone.Amplitude * math.Sin(2*math.Pi*tone.Hz*t+phase)
	}
	if s.cfg.Noise != 0 {
		v += s.cfg.Noise * (2*fract(math.Sin(float64(k)*12.9898+float64(ch)*78.233)*43758.5453) - 1)
	}
	return v
}

func (s *syntheticSession) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

func (s *syntheticSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: session already released", types.ErrAcquisition)
	}
	s.streaming = false
	s.released = true
	return nil
}

func (s *syntheticSession) SamplingRate() float64 { return s.cfg.SamplingRate }
func (s *syntheticSession) EEGChannels() []int    { return append([]int(nil), s.channels...) }

func fract(x float64) float64 { return x - math.Floor(x) }
