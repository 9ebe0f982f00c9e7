package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"bandlight/types"
)

type SerialConfig struct {
	Port         string
	BaudRate     int
	WriteTimeout time.Duration
	// Settle is how long to wait after opening before the first write;
	// many microcontrollers reset when the port opens.
	Settle time.Duration
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:         "/dev/ttyUSB1",
		BaudRate:     9600,
		WriteTimeout: 3 * time.Second,
		Settle:       2 * time.Second,
	}
}

// SerialOpener opens the indicator light's serial port.
type SerialOpener struct {
	cfg  SerialConfig
	dial func(name string, mode *serial.Mode) (io.WriteCloser, error)
}

func NewSerialOpener(cfg SerialConfig) *SerialOpener {
	return &SerialOpener{cfg: cfg, dial: dialSerial}
}

func dialSerial(name string, mode *serial.Mode) (io.WriteCloser, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *SerialOpener) Open(ctx context.Context) (Gateway, error) {
	if o.cfg.Port == "" {
		return nil, fmt.Errorf("%w: no serial port configured", types.ErrTransport)
	}
	port, err := o.dial(o.cfg.Port, &serial.Mode{BaudRate: o.cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: error opening %s: %v", types.ErrTransport, o.cfg.Port, err)
	}
	if err := sleep(ctx, o.cfg.Settle); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	return &SerialGateway{port: port, name: o.cfg.Port, timeout: o.cfg.WriteTimeout}, nil
}

// SerialGateway writes one ASCII byte per command: '1' for on, '0' for off.
type SerialGateway struct {
	port    io.WriteCloser
	name    string
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	pending <-chan error // result of a write that outlived its timeout
}

// Send writes the state byte, giving up after the write timeout. A timed out
// write may still complete later; it is not retried, and Send fails without
// touching the port until it has finished.
func (g *SerialGateway) Send(s types.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: %s is closed", types.ErrTransport, g.name)
	}
	if g.pending != nil {
		select {
		case <-g.pending:
			g.pending = nil
		default:
			return fmt.Errorf("%w: earlier write to %s still pending", types.ErrTransport, g.name)
		}
	}

	done := make(chan error, 1)
	go func() {
		n, err := g.port.Write([]byte{s.Byte()})
		if err == nil && n != 1 {
			err = io.ErrShortWrite
		}
		done <- err
	}()

	var timeout <-chan time.Time
	if g.timeout > 0 {
		t := time.NewTimer(g.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: write to %s: %v", types.ErrTransport, g.name, err)
		}
		return nil
	case <-timeout:
		g.pending = done
		return fmt.Errorf("%w: write to %s timed out after %s", types.ErrTransport, g.name, g.timeout)
	}
}

func (g *SerialGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: %s already closed", types.ErrTransport, g.name)
	}
	g.closed = true
	// closing the port also unblocks a pending write
	if err := g.port.Close(); err != nil {
		return fmt.Errorf("%w: error closing %s: %v", types.ErrTransport, g.name, err)
	}
	return nil
}
