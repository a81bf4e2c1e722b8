// package graphfile builds thunk graphs from YAML descriptions.
//
//	nodes:
//	  - {name: c, const: false}
//	  - {name: a, const: 1.0}
//	  - {name: b, const: 2.0}
//	  - {name: s, op: add, args: [a, b]}
//	  - {name: y, op: switch, args: [c, a, s]}
//	outputs: [s, y]
//
// Values are floats or bools. Nodes may only refer to nodes defined before them.
package graphfile

import (
	"context"
	"fmt"
	"io"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/lazy"
	"myceliumweb.org/lazyrt/opcode"
	"myceliumweb.org/lazyrt/ops"
)

// File is the YAML document.
type File struct {
	Nodes []Node `yaml:"nodes"`
	// Outputs are the names of the nodes to evaluate. If empty, every node is an output.
	Outputs []string `yaml:"outputs"`
}

type Node struct {
	Name  string   `yaml:"name"`
	Op    string   `yaml:"op,omitempty"`
	Const any      `yaml:"const,omitempty"`
	Args  []string `yaml:"args,omitempty"`
}

// Type is the type of value a node produces.
type Type uint8

const (
	Float Type = iota + 1
	Bool
)

func (t Type) String() string {
	switch t {
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// NodeError is returned when a node cannot be built.
type NodeError struct {
	Name string
	Err  error
}

func (e NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Name, e.Err)
}

func (e NodeError) Unwrap() error {
	return e.Err
}

type entry struct {
	ty    Type
	float lazy.Ref[float64]
	bool  lazy.Ref[bool]
}

func (e entry) stable() ident.Stable {
	if e.ty == Bool {
		return e.bool.Stable()
	}
	return e.float.Stable()
}

// Graph is a set of named thunks in a Runtime.
type Graph struct {
	rt      *lazy.Runtime
	names   []string
	entries map[string]entry
	outputs []string
}

// Decode parses a File from r.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}
	return &f, nil
}

// Load decodes a File from r and builds it in rt.
func Load(ctx context.Context, rt *lazy.Runtime, r io.Reader) (*Graph, error) {
	f, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Build(ctx, rt, f)
}

// Build creates a thunk for every node in f.
func Build(ctx context.Context, rt *lazy.Runtime, f *File) (*Graph, error) {
	g := &Graph{
		rt:      rt,
		entries: make(map[string]entry),
	}
	for _, n := range f.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", len(g.names))
		}
		if _, exists := g.entries[n.Name]; exists {
			return nil, NodeError{Name: n.Name, Err: fmt.Errorf("duplicate name")}
		}
		e, err := g.build(ctx, n)
		if err != nil {
			return nil, NodeError{Name: n.Name, Err: err}
		}
		g.entries[n.Name] = e
		g.names = append(g.names, n.Name)
		logctx.Debug(ctx, "built node", zap.String("name", n.Name), zap.Stringer("type", e.ty), zap.Stringer("thunk", e.stable()))
	}
	g.outputs = f.Outputs
	if len(g.outputs) == 0 {
		g.outputs = g.names
	}
	for _, name := range g.outputs {
		if _, exists := g.entries[name]; !exists {
			return nil, fmt.Errorf("output %q is not a node", name)
		}
	}
	return g, nil
}

func (g *Graph) build(ctx context.Context, n Node) (entry, error) {
	op := opcode.Constant
	if n.Op != "" {
		var err error
		if op, err = opcode.Parse(n.Op); err != nil {
			return entry{}, err
		}
	}
	if op == opcode.Constant && n.Const == nil {
		return entry{}, fmt.Errorf("constant has no value")
	}
	if op != opcode.Constant && n.Const != nil {
		return entry{}, fmt.Errorf("%v does not take a constant", op)
	}
	if op.Variadic() {
		return entry{}, fmt.Errorf("%v cannot be described in a graph file", op)
	}
	if len(n.Args) != op.InDegree() {
		return entry{}, fmt.Errorf("%v takes %d args, have %d", op, op.InDegree(), len(n.Args))
	}
	args := make([]entry, len(n.Args))
	for i, name := range n.Args {
		e, exists := g.entries[name]
		if !exists {
			return entry{}, fmt.Errorf("unknown node %q", name)
		}
		args[i] = e
	}

	switch op {
	case opcode.Constant:
		return g.constant(ctx, n.Const)
	case opcode.Add:
		if args[0].ty != Float || args[1].ty != Float {
			return entry{}, fmt.Errorf("add takes floats, have %v and %v", args[0].ty, args[1].ty)
		}
		ref, err := ops.Add(ctx, g.rt, args[0].float, args[1].float)
		return entry{ty: Float, float: ref}, err
	case opcode.Switch:
		cond, x, y := args[0], args[1], args[2]
		if cond.ty != Bool {
			return entry{}, fmt.Errorf("switch condition must be bool, have %v", cond.ty)
		}
		if x.ty != y.ty {
			return entry{}, fmt.Errorf("switch operands differ: %v and %v", x.ty, y.ty)
		}
		if x.ty == Bool {
			ref, err := ops.Switch(ctx, g.rt, cond.bool, x.bool, y.bool)
			return entry{ty: Bool, bool: ref}, err
		}
		ref, err := ops.Switch(ctx, g.rt, cond.bool, x.float, y.float)
		return entry{ty: Float, float: ref}, err
	default:
		return entry{}, fmt.Errorf("unsupported op %v", op)
	}
}

func (g *Graph) constant(ctx context.Context, x any) (entry, error) {
	switch x := x.(type) {
	case bool:
		ref, err := ops.Constant(ctx, g.rt, x)
		return entry{ty: Bool, bool: ref}, err
	case int:
		ref, err := ops.Constant(ctx, g.rt, float64(x))
		return entry{ty: Float, float: ref}, err
	case float64:
		ref, err := ops.Constant(ctx, g.rt, x)
		return entry{ty: Float, float: ref}, err
	default:
		return entry{}, fmt.Errorf("constant must be a number or bool, have %T", x)
	}
}

// Names returns the name of every node, in the order they were defined.
func (g *Graph) Names() []string {
	return append([]string{}, g.names...)
}

// Outputs returns the names of the output nodes.
func (g *Graph) Outputs() []string {
	return append([]string{}, g.outputs...)
}

// TypeOf returns the type of the named node.
func (g *Graph) TypeOf(name string) (Type, bool) {
	e, exists := g.entries[name]
	return e.ty, exists
}

// Stable returns the stable tag of the named node's thunk.
func (g *Graph) Stable(name string) (ident.Stable, bool) {
	e, exists := g.entries[name]
	return e.stable(), exists
}

// Float returns a reference to the named node, if it produces a float.
func (g *Graph) Float(name string) (lazy.Ref[float64], bool) {
	e, exists := g.entries[name]
	if !exists || e.ty != Float {
		return lazy.Ref[float64]{}, false
	}
	return e.float, true
}

// Bool returns a reference to the named node, if it produces a bool.
func (g *Graph) Bool(name string) (lazy.Ref[bool], bool) {
	e, exists := g.entries[name]
	if !exists || e.ty != Bool {
		return lazy.Ref[bool]{}, false
	}
	return e.bool, true
}

// Force evaluates the named node.
func (g *Graph) Force(ctx context.Context, txn ident.Txn, name string) error {
	e, exists := g.entries[name]
	if !exists {
		return fmt.Errorf("unknown node %q", name)
	}
	if e.ty == Bool {
		return e.bool.Force(ctx, txn)
	}
	return e.float.Force(ctx, txn)
}

// Eval evaluates the named node and returns its value, a float64 or a bool.
func (g *Graph) Eval(ctx context.Context, txn ident.Txn, name string) (any, error) {
	e, exists := g.entries[name]
	if !exists {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	if e.ty == Bool {
		v, err := e.bool.Read(ctx, txn)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	v, err := e.float.Read(ctx, txn)
	if err != nil {
		return nil, err
	}
	return v, nil
}
