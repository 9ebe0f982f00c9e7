package recording

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"bandlight/types"
)

type Config struct {
	PatientID   string
	RecordingID string
	// physical range of the EEG signal in microvolts; samples outside it are clipped
	PhysicalMin float64
	PhysicalMax float64
}

func DefaultConfig() Config {
	return Config{
		PatientID:   "X",
		RecordingID: "bandlight",
		PhysicalMin: -5000,
		PhysicalMax: 5000,
	}
}

// Recorder writes raw windows to an EDF file as one-second data records.
// Samples that do not fill a whole record when the recorder is closed are
// dropped.
type Recorder struct {
	f         *os.File
	ew        *edf.Writer
	cfg       Config
	channels  int
	perRecord int

	mu      sync.Mutex
	pending [][]float64
	records int
	closed  bool
}

// Create starts a recording of channels sampled at fs. The sampling rate must
// be a whole number of samples per second.
func Create(path string, channels []int, fs float64, start time.Time, cfg Config) (*Recorder, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("recording needs at least one channel")
	}
	perRecord := int(math.Round(fs))
	if perRecord <= 0 || math.Abs(fs-float64(perRecord)) > 1e-9 {
		return nil, fmt.Errorf("sampling rate %v Hz is not a whole number of samples per second", fs)
	}
	// 16-bit samples, at most 61440 bytes per record
	if len(channels)*perRecord*2 > 61440 {
		return nil, fmt.Errorf("%d channels at %d Hz exceed the EDF record size limit", len(channels), perRecord)
	}
	if !(cfg.PhysicalMin < cfg.PhysicalMax) {
		return nil, fmt.Errorf("invalid physical range [%v, %v]", cfg.PhysicalMin, cfg.PhysicalMax)
	}

	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          cfg.PatientID,
		RecordingID:        cfg.RecordingID,
		StartTime:          start,
		DataRecordDuration: time.Second,
		SignalCount:        len(channels),
	}
	for _, ch := range channels {
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:             fmt.Sprintf("EEG %d", ch),
			TransducerType:    "AgAgCl electrode",
			PhysicalDimension: "uV",
			PhysicalMin:       cfg.PhysicalMin,
			PhysicalMax:       cfg.PhysicalMax,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  perRecord,
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating recording: %w", err)
	}
	ew, err := edf.Create(f, hdr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error writing EDF header: %w", err)
	}
	return &Recorder{
		f:         f,
		ew:        ew,
		cfg:       cfg,
		channels:  len(channels),
		perRecord: perRecord,
		pending:   make([][]float64, len(channels)),
	}, nil
}

// Write appends the samples of w and flushes every complete record.
func (r *Recorder) Write(w types.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording is closed")
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if len(w.Data) != r.channels {
		return fmt.Errorf("window has %d channels, recording has %d", len(w.Data), r.channels)
	}

	for i, row := range w.Data {
		for _, v := range row {
			r.pending[i] = append(r.pending[i], r.clip(v))
		}
	}
	for len(r.pending[0]) >= r.perRecord {
		rec := make([][]float64, r.channels)
		for i := range rec {
			rec[i] = r.pending[i][:r.perRecord]
		}
		if err := r.ew.Write(rec); err != nil {
			return fmt.Errorf("error writing EDF record: %w", err)
		}
		for i := range r.pending {
			r.pending[i] = append([]float64(nil), r.pending[i][r.perRecord:]...)
		}
		r.records++
	}
	return nil
}

func (r *Recorder) clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(r.cfg.PhysicalMin, math.Min(r.cfg.PhysicalMax, v))
}

// Records is the number of complete data records written so far.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Close finalises the header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.ew.Close(), r.f.Close())
}
