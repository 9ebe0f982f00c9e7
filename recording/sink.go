package recording

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bandlight/types"
)

// Sink records a stream of windows that may overlap or leave gaps. The EDF
// file is created from the first window's layout and the window start times
// place every sample on one timeline: samples already written are skipped,
// and missing samples are filled by holding each channel's last value so
// later samples keep their time.
type Sink struct {
	path string
	cfg  Config
	log  zerolog.Logger

	mu   sync.Mutex
	rec  *Recorder
	t0   time.Time
	fs   float64
	next int64 // index of the first sample not yet written
	last []float64
	gaps int
}

func NewSink(path string, cfg Config, log zerolog.Logger) *Sink {
	return &Sink{path: path, cfg: cfg, log: log}
}

func (s *Sink) Write(w types.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := w.Validate(); err != nil {
		return err
	}
	if s.rec == nil {
		channels := w.Channels
		if len(channels) == 0 {
			for i := range w.Data {
				channels = append(channels, i+1)
			}
		}
		rec, err := Create(s.path, channels, w.SamplingRate, w.Start, s.cfg)
		if err != nil {
			return err
		}
		s.rec, s.t0, s.fs = rec, w.Start, w.SamplingRate
	}
	if w.SamplingRate != s.fs {
		return fmt.Errorf("window sampled at %v Hz, recording at %v Hz", w.SamplingRate, s.fs)
	}
	if len(w.Data) != s.rec.channels {
		return fmt.Errorf("window has %d channels, recording has %d", len(w.Data), s.rec.channels)
	}

	_, n := w.Shape()
	idx := s.next
	if !w.Start.IsZero() && !s.t0.IsZero() {
		idx = int64(math.Round(w.Start.Sub(s.t0).Seconds() * s.fs))
	}

	if gap := idx - s.next; gap > 0 && s.last != nil {
		s.log.Warn().
			Int64("samples", gap).
			Time("from", s.t0.Add(sampleTime(s.next, s.fs))).
			Msg("gap in recorded stream, holding last sample")
		if err := s.rec.Write(s.hold(gap)); err != nil {
			return err
		}
		s.gaps++
	}

	skip := s.next - idx
	if skip >= int64(n) {
		return nil
	}
	if skip > 0 {
		trimmed := w
		trimmed.Data = make([][]float64, len(w.Data))
		for i, row := range w.Data {
			trimmed.Data[i] = row[skip:]
		}
		w = trimmed
	}
	if err := s.rec.Write(w); err != nil {
		return err
	}
	s.last = make([]float64, len(w.Data))
	for i, row := range w.Data {
		s.last[i] = row[len(row)-1]
	}
	s.next = idx + int64(n)
	return nil
}

func (s *Sink) hold(samples int64) types.Window {
	fill := types.Window{SamplingRate: s.fs, Data: make([][]float64, len(s.last))}
	for i, v := range s.last {
		row := make([]float64, samples)
		for j := range row {
			row[j] = v
		}
		fill.Data[i] = row
	}
	return fill
}

func sampleTime(k int64, fs float64) time.Duration {
	return time.Duration(math.Round(float64(k) / fs * float64(time.Second)))
}

// Records is the number of complete data records written so far.
func (s *Sink) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return 0
	}
	return s.rec.Records()
}

// Gaps is the number of discontinuities filled so far.
func (s *Sink) Gaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaps
}

// Close finalises the recording. Nothing is written when no window arrived.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	return s.rec.Close()
}
