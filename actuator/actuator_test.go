package actuator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"bandlight/types"
)

type fakePort struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	block    chan struct{}
	closed   int
	writes   int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes++
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func serialWith(port *fakePort, cfg SerialConfig) (*SerialOpener, *serial.Mode) {
	var got serial.Mode
	o := NewSerialOpener(cfg)
	o.dial = func(name string, mode *serial.Mode) (io.WriteCloser, error) {
		got = *mode
		return port, nil
	}
	return o, &got
}

func TestSerialSendWritesStateByte(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultSerialConfig()
	cfg.Settle = 0
	o, mode := serialWith(port, cfg)

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)

	require.NoError(t, g.Send(types.On))
	require.NoError(t, g.Send(types.Off))
	require.NoError(t, g.Send(types.On))
	assert.Equal(t, "101", port.buf.String())

	require.NoError(t, g.Close())
	assert.Equal(t, 1, port.closed)
	assert.ErrorIs(t, g.Close(), types.ErrTransport)
	assert.ErrorIs(t, g.Send(types.On), types.ErrTransport)
	assert.Equal(t, 1, port.closed)
}

func TestSerialWriteFailure(t *testing.T) {
	port := &fakePort{writeErr: errors.New("device unplugged")}
	cfg := DefaultSerialConfig()
	cfg.Settle = 0
	o, _ := serialWith(port, cfg)

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	err = g.Send(types.On)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestSerialWriteTimeout(t *testing.T) {
	port := &fakePort{block: make(chan struct{})}
	defer close(port.block)
	cfg := DefaultSerialConfig()
	cfg.Settle = 0
	cfg.WriteTimeout = 20 * time.Millisecond
	o, _ := serialWith(port, cfg)

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	err = g.Send(types.On)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSerialRefusesToOverlapAStuckWrite(t *testing.T) {
	port := &fakePort{block: make(chan struct{})}
	cfg := DefaultSerialConfig()
	cfg.Settle = 0
	cfg.WriteTimeout = 20 * time.Millisecond
	o, _ := serialWith(port, cfg)

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, g.Send(types.On), types.ErrTransport)

	err = g.Send(types.Off)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "still pending")
	port.mu.Lock()
	assert.Equal(t, 1, port.writes)
	port.mu.Unlock()

	close(port.block)
	require.Eventually(t, func() bool { return g.Send(types.Off) == nil }, time.Second, 5*time.Millisecond)
	port.mu.Lock()
	assert.Equal(t, "10", port.buf.String())
	assert.Equal(t, 2, port.writes)
	port.mu.Unlock()
	require.NoError(t, g.Close())
}

func TestSerialOpenFailures(t *testing.T) {
	o := NewSerialOpener(SerialConfig{})
	_, err := o.Open(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)

	o = NewSerialOpener(DefaultSerialConfig())
	o.dial = func(string, *serial.Mode) (io.WriteCloser, error) {
		return nil, errors.New("no such file or directory")
	}
	_, err = o.Open(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestSerialSettleHonoursCancellation(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultSerialConfig()
	cfg.Settle = time.Hour
	o, _ := serialWith(port, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Open(ctx)
	assert.ErrorIs(t, err, types.ErrTransport)
	// the port is released when opening is abandoned
	assert.Equal(t, 1, port.closed)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient implements the parts of mqtt.Client the gateway uses.
type fakeClient struct {
	mqtt.Client
	connectErr   error
	publishErr   error
	published    []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken(c.connectErr) }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, string(payload.([]byte))})
	return doneToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublishesState(t *testing.T) {
	fc := &fakeClient{}
	o := NewMQTTOpener(DefaultMQTTConfig())
	o.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.Send(types.On))
	require.NoError(t, g.Send(types.Off))

	require.Len(t, fc.published, 2)
	assert.Equal(t, published{"bandlight/light", 1, true, "1"}, fc.published[0])
	assert.Equal(t, "0", fc.published[1].payload)

	require.NoError(t, g.Close())
	assert.True(t, fc.disconnected)
	assert.ErrorIs(t, g.Send(types.On), types.ErrTransport)
}

func TestMQTTErrors(t *testing.T) {
	o := NewMQTTOpener(DefaultMQTTConfig())
	o.newClient = func(*mqtt.ClientOptions) mqtt.Client { return &fakeClient{connectErr: errors.New("refused")} }
	_, err := o.Open(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)

	fc := &fakeClient{publishErr: errors.New("not connected")}
	o.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }
	g, err := o.Open(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, g.Send(types.On), types.ErrTransport)

	_, err = NewMQTTOpener(MQTTConfig{}).Open(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestMQTTPublishTimeout(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.Timeout = 20 * time.Millisecond
	o := NewMQTTOpener(cfg)
	pending := &fakeToken{done: make(chan struct{})}
	o.newClient = func(*mqtt.ClientOptions) mqtt.Client { return &stuckClient{fakeClient: &fakeClient{}, tok: pending} }

	g, err := o.Open(context.Background())
	require.NoError(t, err)
	err = g.Send(types.On)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "timed out")
}

type stuckClient struct {
	*fakeClient
	tok mqtt.Token
}

func (c *stuckClient) Publish(string, byte, bool, interface{}) mqtt.Token { return c.tok }

func TestNop(t *testing.T) {
	g, err := Nop{}.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, g.Send(types.On))
	assert.NoError(t, g.Close())
}
