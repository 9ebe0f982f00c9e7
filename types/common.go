package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Window is one block of multi-channel EEG samples, laid out channel by
// sample. Every row holds the same number of samples.
type Window struct {
	Data         [][]float64
	SamplingRate float64
	Channels     []int // board channel index of each row
	Start        time.Time
}

// Shape returns the channel and sample counts of the window.
func (w Window) Shape() (channels, samples int) {
	if len(w.Data) == 0 {
		return 0, 0
	}
	return len(w.Data), len(w.Data[0])
}

func (w Window) Validate() error {
	if len(w.Data) == 0 {
		return fmt.Errorf("window has no channels")
	}
	if w.SamplingRate <= 0 || math.IsNaN(w.SamplingRate) || math.IsInf(w.SamplingRate, 0) {
		return fmt.Errorf("invalid sampling rate %v", w.SamplingRate)
	}
	n := len(w.Data[0])
	for i, row := range w.Data {
		if len(row) != n {
			return fmt.Errorf("channel %d has %d samples, expected %d", i, len(row), n)
		}
	}
	if w.Channels != nil && len(w.Channels) != len(w.Data) {
		return fmt.Errorf("window has %d rows but %d channel indices", len(w.Data), len(w.Channels))
	}
	return nil
}

// Clone returns a deep copy of the window.
func (w Window) Clone() Window {
	out := Window{
		Data:         make([][]float64, len(w.Data)),
		SamplingRate: w.SamplingRate,
		Start:        w.Start,
	}
	for i, row := range w.Data {
		out.Data[i] = append([]float64(nil), row...)
	}
	if w.Channels != nil {
		out.Channels = append([]int(nil), w.Channels...)
	}
	return out
}

// ChannelLabel names row i of the window for logs.
func (w Window) ChannelLabel(i int) int {
	if i < len(w.Channels) {
		return w.Channels[i]
	}
	return i
}

type Band struct {
	Name string
	Low  float64 // Hz
	High float64 // Hz
}

func (b Band) Validate() error {
	if !(b.Low < b.High) || b.Low < 0 {
		return fmt.Errorf("invalid band %s [%v, %v]", b.Name, b.Low, b.High)
	}
	return nil
}

func (b Band) String() string {
	return fmt.Sprintf("%s [%g, %g] Hz", b.Name, b.Low, b.High)
}

var (
	Delta = Band{Name: "delta", Low: 1, High: 4}
	Theta = Band{Name: "theta", Low: 4, High: 8}
	Alpha = Band{Name: "alpha", Low: 8, High: 12}
	Beta  = Band{Name: "beta", Low: 12, High: 30}
	Gamma = Band{Name: "gamma", Low: 30, High: 40}
)

// DefaultBands lists the five named EEG bands from slowest to fastest.
func DefaultBands() []Band {
	return []Band{Delta, Theta, Alpha, Beta, Gamma}
}

func BandByName(name string) (Band, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range DefaultBands() {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

// State is the indicator light state.
type State int

const (
	Off State = iota
	On
)

// Byte is the one-byte wire command for the state.
func (s State) Byte() byte {
	if s == On {
		return '1'
	}
	return '0'
}

func (s State) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

// BandMean is the channel-averaged power of one band.
type BandMean struct {
	Band string
	Mean float64
}

// Reading is the outcome of one loop iteration.
type Reading struct {
	Time     time.Time // when the window was analyzed
	Band     string    // decision band
	Mean     float64
	Others   []BandMean // report-only bands, in configured order
	Channels int        // channels that contributed to Mean
	Decision *State     // nil when no decision was produced
}

// Session describes one acquisition run as kept in the history database.
type Session struct {
	ID           string
	Source       string // board kind or replayed file
	SamplingRate float64
	Channels     int
	Band         string
	Threshold    float64
	StartedAt    time.Time
	EndedAt      time.Time // zero while running
}
