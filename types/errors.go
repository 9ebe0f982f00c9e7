package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquisition means the device is unreachable or the session cannot start.
	ErrAcquisition = errors.New("acquisition error")
	// ErrTransport means the actuator link is unavailable or a write failed.
	ErrTransport = errors.New("transport error")

	ErrPreprocessing      = errors.New("preprocessing error")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrSpectralEstimation = errors.New("spectral estimation error")

	// ErrEmptyAggregation means no channel survived this iteration.
	ErrEmptyAggregation = errors.New("no channel band power to aggregate")
)

// ChannelError reports a failure confined to one channel of one window.
type ChannelError struct {
	Row     int // row in the window
	Channel int // board channel index
	Stage   string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %s: %v", e.Channel, e.Stage, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
