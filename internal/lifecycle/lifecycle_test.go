package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ifm/nexxT/internal/filter"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/sample"
	"github.com/ifm/nexxT/internal/services"
	"github.com/ifm/nexxT/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFilter tracks callback invocation order and exposes hooks for
// tests to force a given callback to fail.
type recordingFilter struct {
	filter.BaseFilter
	mu       sync.Mutex
	calls    []string
	received []string
	failOn   string
	env      *filter.Environment
}

func (f *recordingFilter) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return errors.New("injected failure in " + name)
	}
	return nil
}

func (f *recordingFilter) OnInit() error  { return f.record("OnInit") }
func (f *recordingFilter) OnOpen() error  { return f.record("OnOpen") }
func (f *recordingFilter) OnStart() error { return f.record("OnStart") }
func (f *recordingFilter) OnStop() error  { return f.record("OnStop") }
func (f *recordingFilter) OnClose() error { return f.record("OnClose") }
func (f *recordingFilter) OnDeinit() error { return f.record("OnDeinit") }

func (f *recordingFilter) OnPortDataChanged(p *port.InputPort) error {
	s, err := p.GetData(0, 0)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil && s != nil {
		f.received = append(f.received, string(s.Content()))
	}
	return nil
}

func (f *recordingFilter) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newRecordingFactory(store **recordingFilter) filter.Factory {
	return func(env *filter.Environment) (filter.Filter, error) {
		f := &recordingFilter{env: env}
		*store = f
		return f, nil
	}
}

func TestLifecycleOrdersCallbacksPerFilter(t *testing.T) {
	c := New(nil, nil, nil, nil)

	var src *recordingFilter
	require.NoError(t, c.AddNode(NodeSpec{
		Name:              "Source",
		ThreadName:        "t1",
		Factory:           newRecordingFactory(&src),
		StaticOutputPorts: []string{"out"},
	}))

	require.NoError(t, c.RunForward())
	c.Shutdown()

	assert.Equal(t, []string{"OnInit", "OnOpen", "OnStart", "OnStop", "OnClose", "OnDeinit"},
		src.callOrder()[:6])

	env, ok := c.Environment("Source")
	require.True(t, ok)
	assert.Equal(t, state.Destructed, env.State())
}

func TestLifecycleDeliversAcrossDirectConnection(t *testing.T) {
	c := New(nil, nil, nil, nil)

	var src, sink *recordingFilter
	require.NoError(t, c.AddNode(NodeSpec{
		Name:              "Source",
		ThreadName:        "t1",
		Factory:           newRecordingFactory(&src),
		StaticOutputPorts: []string{"out"},
	}))
	require.NoError(t, c.AddNode(NodeSpec{
		Name:             "Sink",
		ThreadName:       "t1",
		Factory:          newRecordingFactory(&sink),
		StaticInputPorts: []PortConfig{{Name: "in", QueueSizeSamples: 4}},
	}))
	c.AddConnection(ConnectionSpec{FromNode: "Source", FromPort: "out", ToNode: "Sink", ToPort: "in", Width: 1})

	require.NoError(t, c.RunForward())

	srcEnv, ok := c.Environment("Source")
	require.True(t, ok)
	outPort, ok := srcEnv.OutputPort("out")
	require.True(t, ok)

	th, ok := c.pool.Thread("t1")
	require.True(t, ok)
	require.NoError(t, th.RunOnThread(func() error {
		return outPort.Transmit(sample.New([]byte("hello"), "text", sample.CurrentTime()))
	}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.received)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	c.Shutdown()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.received, 1)
	assert.Equal(t, "hello", sink.received[0])
}

func TestLifecycleAbortsAndReversesOnInitFailure(t *testing.T) {
	c := New(nil, nil, nil, nil)

	var good *recordingFilter
	require.NoError(t, c.AddNode(NodeSpec{
		Name:       "Good",
		ThreadName: "t1",
		Factory:    newRecordingFactory(&good),
	}))

	var bad *recordingFilter
	require.NoError(t, c.AddNode(NodeSpec{
		Name:       "Bad",
		ThreadName: "t1",
		Factory: func(env *filter.Environment) (filter.Filter, error) {
			f := &recordingFilter{env: env, failOn: "OnInit"}
			bad = f
			return f, nil
		},
	}))

	err := c.RunForward()
	require.Error(t, err)

	// Good reached Initialized, so its OnDeinit ran; it never reached Open
	// or Start, so OnClose was skipped.
	assert.Contains(t, good.callOrder(), "OnInit")
	assert.NotContains(t, good.callOrder(), "OnOpen")
	assert.Contains(t, good.callOrder(), "OnDeinit")

	assert.Contains(t, bad.callOrder(), "OnInit")
	assert.NotContains(t, bad.callOrder(), "OnDeinit")

	c.Shutdown()
}

func TestLifecycleMetricsTrackTransitions(t *testing.T) {
	metrics := services.NewMetrics()
	c := New(nil, nil, nil, metrics)

	var f *recordingFilter
	require.NoError(t, c.AddNode(NodeSpec{Name: "Solo", ThreadName: "t1", Factory: newRecordingFactory(&f)}))

	require.NoError(t, c.RunForward())
	c.Shutdown()

	snap := metrics.Snapshot()
	assert.GreaterOrEqual(t, snap.TransitionsCompleted, uint64(6))
}
