package acquisition

import (
	"context"
	"errors"
	"math"
	"time"

	"bandlight/types"
)

// ErrStreamEnded is returned by LatestWindow when a finite source (a replayed
// recording) has no more samples. The control loop treats it as a stop request.
var ErrStreamEnded = errors.New("stream ended")

// Board opens acquisition sessions.
type Board interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one prepared acquisition handle. Release must be called exactly
// once whatever happened before it.
type Session interface {
	StartStream(ctx context.Context) error
	// LatestWindow returns the most recent n samples of every EEG channel.
	LatestWindow(ctx context.Context, n int) (types.Window, error)
	StopStream() error
	Release() error

	SamplingRate() float64
	EEGChannels() []int
}

func channelRange(n int) []int {
	ch := make([]int, n)
	for i := range ch {
		ch[i] = i + 1
	}
	return ch
}

// sampleOffset is the time from sample 0 to sample k.
func sampleOffset(k int64, rate float64) time.Duration {
	return time.Duration(math.Round(float64(k) / rate * float64(time.Second)))
}
