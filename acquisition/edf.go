package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"bandlight/types"
)

// EDFBoard replays a recording written by the recorder (or any EDF file whose
// signals share one sampling rate). Successive windows are consecutive and
// non-overlapping.
type EDFBoard struct {
	Path string
}

func NewEDFBoard(path string) *EDFBoard {
	return &EDFBoard{Path: path}
}

func (b *EDFBoard) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAcquisition, err)
	}
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening recording: %v", types.ErrAcquisition, err)
	}

	info, err := readEDFHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", types.ErrAcquisition, b.Path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrAcquisition, err)
	}
	er, err := edf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", types.ErrAcquisition, b.Path, err)
	}

	s := &edfSession{
		f:        f,
		rate:     info.rate,
		start:    info.start,
		channels: channelRange(info.signals),
	}
	for i := 0; i < info.signals; i++ {
		sr, err := er.Signal(i)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: signal %d: %v", types.ErrAcquisition, i, err)
		}
		s.readers = append(s.readers, sr)
	}
	return s, nil
}

type edfSession struct {
	f        *os.File
	readers  []*edf.SignalReader
	rate     float64
	start    time.Time
	channels []int

	mu        sync.Mutex
	consumed  int64
	streaming bool
	released  bool
}

func (s *edfSession) StartStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: session released", types.ErrAcquisition)
	}
	s.streaming = true
	return nil
}

func (s *edfSession) LatestWindow(ctx context.Context, n int) (types.Window, error) {
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

	w := types.Window{
		Data:         make([][]float64, len(s.readers)),
		SamplingRate: s.rate,
		Channels:     append([]int(nil), s.channels...),
		Start:        s.start.Add(sampleOffset(s.consumed, s.rate)),
	}
	for i, sr := range s.readers {
		row := make([]float64, n)
		got, err := sr.Read(row)
		if errors.Is(err, io.EOF) || (err == nil && got < n) {
			return types.Window{}, ErrStreamEnded
		}
		if err != nil {
			return types.Window{}, fmt.Errorf("%w: channel %d: %v", types.ErrAcquisition, s.channels[i], err)
		}
		w.Data[i] = row
	}
	s.consumed += int64(n)
	return w, nil
}

func (s *edfSession) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

func (s *edfSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: session already released", types.ErrAcquisition)
	}
	s.released = true
	s.streaming = false
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: error closing recording: %v", types.ErrAcquisition, err)
	}
	return nil
}

func (s *edfSession) SamplingRate() float64 { return s.rate }
func (s *edfSession) EEGChannels() []int    { return append([]int(nil), s.channels...) }

type edfInfo struct {
	signals int
	rate    float64
	start   time.Time
}

// readEDFHeader reads the fixed-layout header fields the edf package keeps
// private: start time, record duration and samples per record.
func readEDFHeader(r io.ReadSeeker) (edfInfo, error) {
	var info edfInfo
	b := make([]byte, 256)
	if _, err := io.ReadFull(r, b); err != nil {
		return info, fmt.Errorf("error reading header: %w", err)
	}

	start, err := time.Parse("02.01.06 15.04.05", strings.TrimSpace(string(b[168:176]))+" "+strings.TrimSpace(string(b[176:184])))
	if err != nil {
		return info, fmt.Errorf("error parsing start time: %w", err)
	}
	info.start = start

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(b[244:252])), 64)
	if err != nil || duration <= 0 {
		return info, fmt.Errorf("invalid record duration %q", strings.TrimSpace(string(b[244:252])))
	}
	info.signals, err = strconv.Atoi(strings.TrimSpace(string(b[252:256])))
	if err != nil || info.signals <= 0 {
		return info, fmt.Errorf("invalid signal count %q", strings.TrimSpace(string(b[252:256])))
	}

	// samples-per-record fields follow label, transducer, dimension,
	// physical/digital ranges and prefiltering for every signal
	offset := int64(256 + info.signals*(16+80+8+8+8+8+8+80))
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return info, err
	}
	spr := make([]byte, 8*info.signals)
	if _, err := io.ReadFull(r, spr); err != nil {
		return info, fmt.Errorf("error reading signal headers: %w", err)
	}
	var perRecord int
	for i := 0; i < info.signals; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(string(spr[i*8 : i*8+8])))
		if err != nil || v <= 0 {
			return info, fmt.Errorf("signal %d: invalid samples per record", i)
		}
		if i == 0 {
			perRecord = v
		} else if v != perRecord {
			return info, fmt.Errorf("signal %d has %d samples per record, expected %d", i, v, perRecord)
		}
	}
	info.rate = float64(perRecord) / duration
	return info, nil
}
