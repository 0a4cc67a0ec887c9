package redisource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ifm/nexxT/internal/executor"
	"github.com/ifm/nexxT/internal/filter"
	"github.com/ifm/nexxT/internal/goroutineid"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	queued   [][]StreamMessage
	acked    []string
	pingErr  error
	closed   bool
	readGate chan struct{}
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func (f *fakeClient) CreateConsumerGroup(context.Context, string, string, string) error { return nil }

func (f *fakeClient) ReadMessages(ctx context.Context, _, _, _ string, _ int64, _ time.Duration) ([]StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil, nil
	}
	batch := f.queued[0]
	f.queued = f.queued[1:]
	return batch, nil
}

func (f *fakeClient) Ack(_ context.Context, _, _ string, ids ...string) error {
	f.mu.Lock()
	f.acked = append(f.acked, ids...)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// newTestEnv builds an Environment whose Executor the test drains manually
// by calling MultiStep from the same goroutine that constructed it, so
// thread-affinity assertions inside Transmit/GetData hold.
func newTestEnv(t *testing.T) *filter.Environment {
	t.Helper()
	exec := executor.New(nxlog.Nop{}, nil)
	env := filter.NewEnvironment("Source", "main", goroutineid.Current(), nxlog.Nop{}, exec, false, false)
	env.AddOutputPort(port.NewOutputPort(OutputPortName, false, env))
	env.SetState(state.Active)
	return env
}

func TestSourceOnInitPingsAndCreatesGroup(t *testing.T) {
	env := newTestEnv(t)
	fc := &fakeClient{}
	src := &Source{env: env, cfg: Config{Stream: "s", Group: "g"}.withDefaults(), newCli: func(Config) (Client, error) { return fc, nil }}

	require.NoError(t, src.OnInit())
	require.NoError(t, src.OnOpen())

	assert.NotNil(t, src.client)
	assert.NotNil(t, src.outPort)
}

func TestSourcePollLoopAcksReadMessages(t *testing.T) {
	env := newTestEnv(t)
	fc := &fakeClient{queued: [][]StreamMessage{{{ID: "1-0", Payload: []byte("hello")}}}}
	src := &Source{env: env, cfg: Config{Stream: "s", Group: "g", BlockTimeout: 10 * time.Millisecond}.withDefaults(), newCli: func(Config) (Client, error) { return fc, nil }}

	require.NoError(t, src.OnInit())
	require.NoError(t, src.OnOpen())
	require.NoError(t, src.OnStart())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		env.Executor().MultiStep()
		fc.mu.Lock()
		acked := len(fc.acked)
		fc.mu.Unlock()
		if acked > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, src.OnStop())
	require.NoError(t, src.OnDeinit())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Contains(t, fc.acked, "1-0")
	assert.True(t, fc.closed)
}
