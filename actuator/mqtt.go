package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bandlight/types"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Retained bool
	Timeout  time.Duration
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   "tcp://localhost:1883",
		Topic:    "bandlight/light",
		ClientID: "bandlight",
		QoS:      1,
		Retained: true,
		Timeout:  3 * time.Second,
	}
}

// MQTTOpener connects to a broker and publishes light states to a topic, for
// indicators that sit on the network instead of a serial line.
type MQTTOpener struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTOpener(cfg MQTTConfig) *MQTTOpener {
	return &MQTTOpener{cfg: cfg, newClient: mqtt.NewClient}
}

func (o *MQTTOpener) Open(ctx context.Context) (Gateway, error) {
	if o.cfg.Broker == "" || o.cfg.Topic == "" {
		return nil, fmt.Errorf("%w: mqtt broker and topic are required", types.ErrTransport)
	}
	opts := mqtt.NewClientOptions().
		AddBroker(o.cfg.Broker).
		SetClientID(o.cfg.ClientID).
		SetConnectTimeout(o.cfg.Timeout).
		SetAutoReconnect(true)
	c := o.newClient(opts)

	if err := wait(ctx, c.Connect(), o.cfg.Timeout); err != nil {
		return nil, fmt.Errorf("%w: error connecting to %s: %v", types.ErrTransport, o.cfg.Broker, err)
	}
	return &MQTTGateway{client: c, cfg: o.cfg}, nil
}

// MQTTGateway publishes the same '1'/'0' payload the serial light expects.
type MQTTGateway struct {
	client mqtt.Client
	cfg    MQTTConfig

	mu     sync.Mutex
	closed bool
}

func (g *MQTTGateway) Send(s types.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: mqtt gateway is closed", types.ErrTransport)
	}
	tok := g.client.Publish(g.cfg.Topic, g.cfg.QoS, g.cfg.Retained, []byte{s.Byte()})
	if err := wait(context.Background(), tok, g.cfg.Timeout); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", types.ErrTransport, g.cfg.Topic, err)
	}
	return nil
}

func (g *MQTTGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: mqtt gateway already closed", types.ErrTransport)
	}
	g.closed = true
	g.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-expired:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
