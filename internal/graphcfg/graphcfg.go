// Package graphcfg models the JSON graph document: composite-filter
// definitions and one or more applications, each a set of nodes and
// connection strings. This package is a plain data/validation layer. It
// decodes and validates the document's shape; it does not resolve
// `{value, subst}` variable substitution, does not load plugins, and
// does not build a running graph. Those remain the external loader's
// job.
package graphcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern matches the schema's identifier constraint for node,
// port, and application names.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// DefaultThread is the thread name a node is assigned when its "thread"
// field is omitted.
const DefaultThread = "main"

// PropertyValue is either a JSON literal or a `{"value":..., "subst":...}`
// object naming a variable-substitution expression the external loader
// resolves before the literal is used. Subst is empty for a plain literal.
type PropertyValue struct {
	Value any
	Subst string
}

// UnmarshalJSON accepts both a bare literal and the {value, subst} form.
func (p *PropertyValue) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value any    `json:"value"`
		Subst string `json:"subst"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Subst != "" {
		p.Value = obj.Value
		p.Subst = obj.Subst
		return nil
	}
	var literal any
	if err := json.Unmarshal(data, &literal); err != nil {
		return fmt.Errorf("graphcfg: property value: %w", err)
	}
	p.Value = literal
	p.Subst = ""
	return nil
}

// MarshalJSON round-trips a PropertyValue back to its JSON form.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	if p.Subst != "" {
		return json.Marshal(struct {
			Value any    `json:"value"`
			Subst string `json:"subst"`
		}{Value: p.Value, Subst: p.Subst})
	}
	return json.Marshal(p.Value)
}

// PortSpec describes one static or dynamic port declared on a node.
// QueueSizeSeconds/QueueSizeSamples/InterthreadDynamicQueue only apply to
// input ports; the JSON document omits them for output ports.
type PortSpec struct {
	Name                    string  `json:"name"`
	QueueSizeSamples        int     `json:"queueSizeSamples,omitempty"`
	QueueSizeSeconds        float64 `json:"queueSizeSeconds,omitempty"`
	InterthreadDynamicQueue bool    `json:"interthreadDynamicQueue,omitempty"`
}

// Node is one graph node: a filter instance to construct, its owning
// thread, its declared ports, and its property map.
type Node struct {
	Name               string                   `json:"name"`
	Library            string                   `json:"library"`
	FactoryFunction    string                   `json:"factoryFunction"`
	Thread             string                   `json:"thread,omitempty"`
	StaticInputPorts   []PortSpec               `json:"staticInputPorts,omitempty"`
	StaticOutputPorts  []PortSpec               `json:"staticOutputPorts,omitempty"`
	DynamicInputPorts  []PortSpec               `json:"dynamicInputPorts,omitempty"`
	DynamicOutputPorts []PortSpec               `json:"dynamicOutputPorts,omitempty"`
	Properties         map[string]PropertyValue `json:"properties,omitempty"`
}

// ThreadOrDefault returns the node's configured thread, or DefaultThread
// if omitted.
func (n Node) ThreadOrDefault() string {
	if n.Thread == "" {
		return DefaultThread
	}
	return n.Thread
}

// CompositeFilter is a reusable subgraph definition: a named bundle of
// nodes and connections that an Application (or another composite) can
// reference. The core does not expand composites itself (graph
// expansion is the external loader's job); this type only carries the
// document's shape.
type CompositeFilter struct {
	Name        string   `json:"name"`
	Nodes       []Node   `json:"nodes,omitempty"`
	Connections []string `json:"connections,omitempty"`
}

// Application is one runnable top-level graph.
type Application struct {
	Name        string   `json:"name"`
	Nodes       []Node   `json:"nodes,omitempty"`
	Connections []string `json:"connections,omitempty"`
}

// Document is the top-level parsed graph configuration file.
type Document struct {
	CompositeFilters []CompositeFilter `json:"compositeFilters,omitempty"`
	Applications     []Application     `json:"applications"`
}

// ParsedConnection is a connection string broken into its parts:
// "from.port -> to.port" with an optional "-<width>>" suffix (e.g.
// "src.out -> sink.in-4>" means width 4; no suffix means the default
// width of 1).
type ParsedConnection struct {
	FromNode string
	FromPort string
	ToNode   string
	ToPort   string
	Width    int // -1 means "not specified" (caller applies the default)
}

var connectionPattern = regexp.MustCompile(`^\s*([^.\s]+)\.([^.\s]+)\s*->\s*([^.\s]+)\.([^.\s]+?)(-(\d+)>)?\s*$`)

// ParseConnection parses one connection string into its endpoints and
// optional width suffix.
func ParseConnection(s string) (ParsedConnection, error) {
	m := connectionPattern.FindStringSubmatch(s)
	if m == nil {
		return ParsedConnection{}, fmt.Errorf("graphcfg: malformed connection %q", s)
	}
	pc := ParsedConnection{
		FromNode: m[1],
		FromPort: m[2],
		ToNode:   m[3],
		ToPort:   m[4],
		Width:    -1,
	}
	if m[6] != "" {
		w, err := strconv.Atoi(m[6])
		if err != nil {
			return ParsedConnection{}, fmt.Errorf("graphcfg: malformed width in %q: %w", s, err)
		}
		pc.Width = w
	}
	return pc, nil
}

// Load reads and decodes a graph document from path. It does not
// validate; call Validate separately once loaded.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graphcfg: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graphcfg: decode %s: %w", path, err)
	}
	return &doc, nil
}

// Validate checks the document's shape: identifier patterns, required
// fields, and well-formed connection strings. It does not check that
// referenced ports actually exist on their node — that is a structural
// cross-reference left to the lifecycle controller at OPENING, once
// nodes have been constructed and ports are known.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("graphcfg: document is nil")
	}
	for i := range doc.CompositeFilters {
		if err := validateNamed(doc.CompositeFilters[i].Name, "compositeFilters"); err != nil {
			return err
		}
		if err := validateNodesAndConnections(doc.CompositeFilters[i].Nodes, doc.CompositeFilters[i].Connections); err != nil {
			return fmt.Errorf("graphcfg: compositeFilter %q: %w", doc.CompositeFilters[i].Name, err)
		}
	}
	if len(doc.Applications) == 0 {
		return fmt.Errorf("graphcfg: at least one application is required")
	}
	for i := range doc.Applications {
		if err := validateNamed(doc.Applications[i].Name, "applications"); err != nil {
			return err
		}
		if err := validateNodesAndConnections(doc.Applications[i].Nodes, doc.Applications[i].Connections); err != nil {
			return fmt.Errorf("graphcfg: application %q: %w", doc.Applications[i].Name, err)
		}
	}
	return nil
}

func validateNamed(name, section string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("graphcfg: %s: invalid identifier %q", section, name)
	}
	return nil
}

func validateNodesAndConnections(nodes []Node, connections []string) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if err := validateNamed(n.Name, "node"); err != nil {
			return err
		}
		if n.Library == "" {
			return fmt.Errorf("node %q: library is required", n.Name)
		}
		if n.FactoryFunction == "" {
			return fmt.Errorf("node %q: factoryFunction is required", n.Name)
		}
		for _, ports := range [][]PortSpec{n.StaticInputPorts, n.StaticOutputPorts, n.DynamicInputPorts, n.DynamicOutputPorts} {
			for _, p := range ports {
				if !identifierPattern.MatchString(p.Name) {
					return fmt.Errorf("node %q: invalid port identifier %q", n.Name, p.Name)
				}
			}
		}
		seen[n.Name] = true
	}
	for _, c := range connections {
		pc, err := ParseConnection(c)
		if err != nil {
			return err
		}
		if !seen[pc.FromNode] {
			return fmt.Errorf("connection %q: unknown source node %q", strings.TrimSpace(c), pc.FromNode)
		}
		if !seen[pc.ToNode] {
			return fmt.Errorf("connection %q: unknown destination node %q", strings.TrimSpace(c), pc.ToNode)
		}
	}
	return nil
}
