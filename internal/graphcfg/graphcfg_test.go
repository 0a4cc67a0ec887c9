package graphcfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnection(t *testing.T) {
	t.Run("no width suffix", func(t *testing.T) {
		pc, err := ParseConnection("source.out -> sink.in")
		require.NoError(t, err)
		assert.Equal(t, "source", pc.FromNode)
		assert.Equal(t, "out", pc.FromPort)
		assert.Equal(t, "sink", pc.ToNode)
		assert.Equal(t, "in", pc.ToPort)
		assert.Equal(t, -1, pc.Width)
	})

	t.Run("with width suffix", func(t *testing.T) {
		pc, err := ParseConnection("source.out -> sink.in-4>")
		require.NoError(t, err)
		assert.Equal(t, 4, pc.Width)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseConnection("not a connection")
		assert.Error(t, err)
	})
}

func TestPropertyValueUnmarshal(t *testing.T) {
	t.Run("literal", func(t *testing.T) {
		var p PropertyValue
		require.NoError(t, json.Unmarshal([]byte(`42`), &p))
		assert.Equal(t, float64(42), p.Value)
		assert.Empty(t, p.Subst)
	})

	t.Run("value+subst object", func(t *testing.T) {
		var p PropertyValue
		require.NoError(t, json.Unmarshal([]byte(`{"value":"fallback","subst":"${ENV_VAR}"}`), &p))
		assert.Equal(t, "fallback", p.Value)
		assert.Equal(t, "${ENV_VAR}", p.Subst)
	})
}

func TestLoadAndValidate(t *testing.T) {
	doc := Document{
		Applications: []Application{
			{
				Name: "app1",
				Nodes: []Node{
					{Name: "source", Library: "builtin", FactoryFunction: "NewSource",
						StaticOutputPorts: []PortSpec{{Name: "out"}}},
					{Name: "sink", Library: "builtin", FactoryFunction: "NewSink",
						StaticInputPorts: []PortSpec{{Name: "in", QueueSizeSamples: 1}}},
				},
				Connections: []string{"source.out -> sink.in"},
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(loaded))
	assert.Len(t, loaded.Applications, 1)
}

func TestValidateRejectsBadIdentifier(t *testing.T) {
	doc := &Document{Applications: []Application{{Name: "bad name!"}}}
	assert.Error(t, Validate(doc))
}

func TestValidateRejectsUnknownConnectionEndpoint(t *testing.T) {
	doc := &Document{Applications: []Application{{
		Name:        "app1",
		Nodes:       []Node{{Name: "source", Library: "builtin", FactoryFunction: "f"}},
		Connections: []string{"source.out -> ghost.in"},
	}}}
	assert.Error(t, Validate(doc))
}

func TestValidateRequiresAtLeastOneApplication(t *testing.T) {
	assert.Error(t, Validate(&Document{}))
}

func TestNodeThreadOrDefault(t *testing.T) {
	n := Node{}
	assert.Equal(t, DefaultThread, n.ThreadOrDefault())
	n.Thread = "worker1"
	assert.Equal(t, "worker1", n.ThreadOrDefault())
}
