// Package vars is the registry of variable bindings: dotted names such as
// "dyn.fluid.NUM_PARTICLES" or "dyn.fluid.particlesArr[3].pos[1]" mapped to
// typed accessor closures over live simulation data.
//
// The registry is built once at startup. Accessors do no locking; the owner
// of the data (the simulation engine) runs them under its own lock.
package vars

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/san-kum/fluidsim/internal/dynamo"
)

type Kind int

const (
	Float Kind = iota
	Int
)

func (k Kind) String() string {
	if k == Int {
		return "int"
	}
	return "double"
}

// Binding is a named handle into simulation memory.
type Binding struct {
	Name  string
	Kind  Kind
	Units string

	// PreRun bindings may only be written before the run starts.
	PreRun bool

	Get func() float64
	Set func(v float64) error // nil means read-only

	// Check, if set, validates a value without applying it. The engine runs
	// it when a write is queued so a bad value is refused at once.
	Check func(v float64) error

	read func() (float64, error)
}

func (b *Binding) Writable() bool { return b.Set != nil }

// Value reads the binding, reporting range errors for indexed names.
func (b *Binding) Value() (float64, error) {
	if b.read != nil {
		return b.read()
	}
	return b.Get(), nil
}

// Format renders a value for the ASCII protocol.
func (b *Binding) Format(v float64) string {
	return FormatValue(b.Kind, v)
}

func FormatValue(k Kind, v float64) string {
	if k == Int {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Parse converts protocol text into a value of the binding's kind.
func (b *Binding) Parse(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: bad value %q", dynamo.ErrProtocol, b.Name, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s: value must be finite, got %q", dynamo.ErrProtocol, b.Name, s)
	}
	if b.Kind == Int && v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s is an int, got %q", dynamo.ErrProtocol, b.Name, s)
	}
	return v, nil
}

// Field is one member of an indexed family, e.g. "pos" of particlesArr.
// Components is 0 for scalars and the array length otherwise.
type Field struct {
	Kind       Kind
	Components int
	Get        func(i, k int) (float64, error)
	Set        func(i, k int, v float64) error
}

// Family exposes <Prefix>[i].<field>[k] names over a resizable collection.
type Family struct {
	Prefix string
	Fields map[string]Field
}

type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	families map[string]*Family
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
		families: make(map[string]*Family),
	}
}

func (r *Registry) Register(b *Binding) error {
	if b.Name == "" || b.Get == nil {
		return fmt.Errorf("%w: binding needs a name and a getter", dynamo.ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[b.Name]; ok {
		return fmt.Errorf("%w: duplicate binding %q", dynamo.ErrConfiguration, b.Name)
	}
	r.bindings[b.Name] = b
	return nil
}

// MustRegister panics on error. Used while building the static table.
func (r *Registry) MustRegister(bs ...*Binding) {
	for _, b := range bs {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) RegisterFamily(f *Family) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.families[f.Prefix]; ok {
		return fmt.Errorf("%w: duplicate family %q", dynamo.ErrConfiguration, f.Prefix)
	}
	r.families[f.Prefix] = f
	return nil
}

// Lookup resolves a dotted name. Indexed names produce a binding bound to
// that index; range checks happen when the accessor runs.
func (r *Registry) Lookup(name string) (*Binding, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.bindings[name]; ok {
		return b, nil
	}
	if open := strings.IndexByte(name, '['); open > 0 {
		if f, ok := r.families[name[:open]]; ok {
			return f.resolve(name)
		}
	}
	return nil, fmt.Errorf("%w: %q", dynamo.ErrUnknownVariable, name)
}

// Names lists scalar bindings and one template per family field.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	for prefix, f := range r.families {
		for field, spec := range f.Fields {
			n := fmt.Sprintf("%s[i].%s", prefix, field)
			if spec.Components > 0 {
				n += fmt.Sprintf("[0..%d]", spec.Components-1)
			}
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (f *Family) resolve(name string) (*Binding, error) {
	rest := name[len(f.Prefix):]
	idx, rest, err := parseIndex(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dynamo.ErrUnknownVariable, name, err)
	}
	if !strings.HasPrefix(rest, ".") {
		return nil, fmt.Errorf("%w: %q: expected .field", dynamo.ErrUnknownVariable, name)
	}
	rest = rest[1:]

	fieldName, comp := rest, -1
	if open := strings.IndexByte(rest, '['); open >= 0 {
		fieldName = rest[:open]
		var tail string
		comp, tail, err = parseIndex(rest[open:])
		if err != nil || tail != "" {
			return nil, fmt.Errorf("%w: %q: bad component", dynamo.ErrUnknownVariable, name)
		}
	}

	field, ok := f.Fields[fieldName]
	if !ok {
		return nil, fmt.Errorf("%w: %q: no field %q", dynamo.ErrUnknownVariable, name, fieldName)
	}
	switch {
	case field.Components == 0 && comp >= 0:
		return nil, fmt.Errorf("%w: %q: %s is a scalar", dynamo.ErrUnknownVariable, name, fieldName)
	case field.Components > 0 && comp < 0:
		return nil, fmt.Errorf("%w: %q: %s needs a component index", dynamo.ErrUnknownVariable, name, fieldName)
	case comp >= field.Components && field.Components > 0:
		return nil, fmt.Errorf("%w: %q: component %d of %d", dynamo.ErrIndexOutOfRange, name, comp, field.Components)
	}

	read := func() (float64, error) { return field.Get(idx, comp) }
	b := &Binding{
		Name: name,
		Kind: field.Kind,
		Get: func() float64 {
			v, err := read()
			if err != nil {
				return math.NaN()
			}
			return v
		},
		read: read,
	}
	if field.Set != nil {
		b.Set = func(v float64) error { return field.Set(idx, comp, v) }
	}
	return b, nil
}

// parseIndex reads "[n]" from the front of s.
func parseIndex(s string) (int, string, error) {
	if !strings.HasPrefix(s, "[") {
		return 0, s, fmt.Errorf("expected [")
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return 0, s, fmt.Errorf("missing ]")
	}
	n, err := strconv.Atoi(s[1:end])
	if err != nil || n < 0 {
		return 0, s, fmt.Errorf("bad index %q", s[1:end])
	}
	return n, s[end+1:], nil
}
