// Package redisource implements an output-only filter that tails a Redis
// stream consumer group and transmits one DataSample per entry. Entries
// are acked as soon as their transmits are queued on the filter's owning
// thread, before the transmits themselves run; there is no redelivery
// protocol beyond what the consumer group itself provides after a
// restart.
package redisource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ifm/nexxT/internal/filter"
	"github.com/ifm/nexxT/internal/nxid"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/sample"
	goredis "github.com/redis/go-redis/v9"
)

// OutputPortName is the name of the filter's single static output port;
// callers wire this into a ConnectionSpec.
const OutputPortName = "out"

// StreamMessage is one decoded stream entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Client is the minimal Redis surface this filter needs; tests substitute
// a fake so no live server is required.
type Client interface {
	Ping(ctx context.Context) error
	CreateConsumerGroup(ctx context.Context, stream, group, start string) error
	ReadMessages(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Close() error
}

// Config configures one redisource filter instance.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	DB        int

	Stream       string
	Group        string
	Consumer     string // defaults to "consumer-<uuid>" if empty
	ReadCount    int64
	BlockTimeout time.Duration

	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	MaxRetries     int
}

func (c Config) withDefaults() Config {
	if c.ReadCount <= 0 {
		c.ReadCount = 32
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.Consumer == "" {
		c.Consumer = "consumer-" + nxid.New().String()
	}
	return c
}

// Source is the redisource Filter implementation.
type Source struct {
	filter.BaseFilter

	env    *filter.Environment
	cfg    Config
	newCli func(Config) (Client, error)

	client  Client
	outPort *port.OutputPort

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFactory returns a filter.Factory that constructs a Source bound to
// cfg. newCli may be nil to use the default go-redis-backed client; tests
// pass a fake to avoid a live Redis dependency.
func NewFactory(cfg Config, newCli func(Config) (Client, error)) filter.Factory {
	if newCli == nil {
		newCli = newGoRedisClient
	}
	return func(env *filter.Environment) (filter.Filter, error) {
		return &Source{env: env, cfg: cfg.withDefaults(), newCli: newCli}, nil
	}
}

func (s *Source) OnInit() error {
	client, err := s.newCli(s.cfg)
	if err != nil {
		return fmt.Errorf("redisource: connecting: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redisource: ping: %w", err)
	}
	if err := client.CreateConsumerGroup(ctx, s.cfg.Stream, s.cfg.Group, "$"); err != nil {
		_ = client.Close()
		return fmt.Errorf("redisource: create consumer group: %w", err)
	}
	s.client = client
	return nil
}

func (s *Source) OnOpen() error {
	p, ok := s.env.OutputPort(OutputPortName)
	if !ok {
		return fmt.Errorf("redisource: missing output port %q", OutputPortName)
	}
	s.outPort = p
	return nil
}

func (s *Source) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

func (s *Source) OnStop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Source) OnDeinit() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// pollLoop runs on its own goroutine, decoupled from the filter's owning
// thread so a blocking Redis read never stalls the Executor. Each decoded
// message is handed to the owning thread via RegisterPendingRcvSync — the
// same queued-delivery mechanism a cross-thread Connection uses — so
// Transmit always runs on the port's owning thread.
func (s *Source) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := s.client.ReadMessages(ctx, s.cfg.Group, s.cfg.Consumer, s.cfg.Stream, s.cfg.ReadCount, s.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.env.Logger().Error("redisource: read failed, retrying", nxlog.Err(err))
			select {
			case <-time.After(s.cfg.RetryInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, m := range msgs {
			msg := m
			s.env.Executor().RegisterPendingRcvSync(nil, nil, func() {
				_ = s.outPort.Transmit(sample.New(msg.Payload, "redis-stream-entry", sample.CurrentTime()))
			})
		}

		if len(msgs) > 0 {
			ids := make([]string, len(msgs))
			for i, m := range msgs {
				ids[i] = m.ID
			}
			ackCtx, ackCancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
			if err := s.client.Ack(ackCtx, s.cfg.Stream, s.cfg.Group, ids...); err != nil {
				s.env.Logger().Warn("redisource: ack failed", nxlog.Err(err))
			}
			ackCancel()
		}
	}
}

var _ filter.Filter = (*Source)(nil)

// goRedisClient adapts goredis.UniversalClient to Client.
type goRedisClient struct {
	rdb goredis.UniversalClient
}

func newGoRedisClient(cfg Config) (Client, error) {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &goRedisClient{rdb: rdb}, nil
}

func (c *goRedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *goRedisClient) CreateConsumerGroup(ctx context.Context, stream, group, start string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *goRedisClient) ReadMessages(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			if cgErr := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0-0").Err(); cgErr != nil && !strings.Contains(cgErr.Error(), "BUSYGROUP") {
				return nil, cgErr
			}
			return nil, nil
		}
		return nil, err
	}

	var out []StreamMessage
	for _, str := range streams {
		for _, xmsg := range str.Messages {
			out = append(out, StreamMessage{ID: xmsg.ID, Payload: buildPayload(xmsg.Values)})
		}
	}
	return out, nil
}

func (c *goRedisClient) Ack(ctx context.Context, stream, group string, ids ...string) error {
	err := c.rdb.XAck(ctx, stream, group, ids...).Err()
	if err != nil && strings.Contains(err.Error(), "NOGROUP") {
		return nil
	}
	return err
}

func (c *goRedisClient) Close() error { return c.rdb.Close() }

func buildPayload(values map[string]any) []byte {
	if raw, ok := values["payload"]; ok {
		switch v := raw.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return b
}
