// Package mqttsink implements an input-only filter that publishes every
// sample arriving on its input port to an MQTT topic.
package mqttsink

import (
	"context"
	"fmt"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/ifm/nexxT/internal/filter"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
)

// InputPortName is the name of the filter's single static input port;
// callers wire this into a ConnectionSpec.
const InputPortName = "in"

// Publisher is the minimal MQTT surface this filter needs.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Disconnect(timeout time.Duration)
	IsConnected() bool
}

// Config configures one mqttsink filter instance.
type Config struct {
	Brokers  []string
	ClientID string
	Topic    string
	QoS      byte
	Retained bool

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	KeepAlive      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	return c
}

// Sink is the mqttsink Filter implementation.
type Sink struct {
	filter.BaseFilter

	env    *filter.Environment
	cfg    Config
	newCli func(Config) (Publisher, error)

	client Publisher
	inPort *port.InputPort
}

// NewFactory returns a filter.Factory that constructs a Sink bound to
// cfg. newCli may be nil to use the default Paho-backed client; tests
// pass a fake to avoid a live broker dependency.
func NewFactory(cfg Config, newCli func(Config) (Publisher, error)) filter.Factory {
	if newCli == nil {
		newCli = newPahoClient
	}
	return func(env *filter.Environment) (filter.Filter, error) {
		return &Sink{env: env, cfg: cfg.withDefaults(), newCli: newCli}, nil
	}
}

func (s *Sink) OnInit() error {
	client, err := s.newCli(s.cfg)
	if err != nil {
		return fmt.Errorf("mqttsink: constructing client: %w", err)
	}
	s.client = client
	return nil
}

func (s *Sink) OnOpen() error {
	p, ok := s.env.InputPort(InputPortName)
	if !ok {
		return fmt.Errorf("mqttsink: missing input port %q", InputPortName)
	}
	s.inPort = p

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("mqttsink: connect: %w", err)
	}
	return nil
}

func (s *Sink) OnClose() error {
	s.client.Disconnect(s.cfg.WriteTimeout)
	return nil
}

// OnPortDataChanged runs on the filter's owning thread, per the framework
// invariant; it publishes synchronously, accepting that a slow broker
// stalls this thread's event loop until WriteTimeout elapses, same as any
// other blocking plugin callback the framework does not force-kill.
func (s *Sink) OnPortDataChanged(p *port.InputPort) error {
	smp, err := p.GetData(0, 0)
	if err != nil {
		return err
	}
	if smp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.cfg.Topic, s.cfg.QoS, s.cfg.Retained, smp.Content()); err != nil {
		s.env.Logger().Error("mqttsink: publish failed", nxlog.Err(err), nxlog.String("topic", s.cfg.Topic))
		return err
	}
	return nil
}

var _ filter.Filter = (*Sink)(nil)

// pahoClient adapts mqttlib.Client to Publisher.
type pahoClient struct {
	client mqttlib.Client
}

func newPahoClient(cfg Config) (Publisher, error) {
	opts := mqttlib.NewClientOptions()
	for _, broker := range cfg.Brokers {
		opts.AddBroker(broker)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetProtocolVersion(4)

	return &pahoClient{client: mqttlib.NewClient(opts)}, nil
}

func (p *pahoClient) Connect(ctx context.Context) error {
	token := p.client.Connect()
	deadline := time.Now().Add(30 * time.Second)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	for !token.WaitTimeout(50*time.Millisecond) && time.Now().Before(deadline) && ctx.Err() == nil {
	}
	return token.Error()
}

func (p *pahoClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	deadline := time.Now().Add(30 * time.Second)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	for !token.WaitTimeout(50*time.Millisecond) && time.Now().Before(deadline) && ctx.Err() == nil {
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return token.Error()
}

func (p *pahoClient) Disconnect(timeout time.Duration) {
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	p.client.Disconnect(uint(ms))
}

func (p *pahoClient) IsConnected() bool {
	return p.client.IsConnected()
}
