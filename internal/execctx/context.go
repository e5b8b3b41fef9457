// Package execctx implements the variable mapping threaded through a single
// workflow run. A Context is a persistent value: every change returns a new
// Context and the receiver is left untouched, so a failed step can never
// corrupt the context it was given.
package execctx

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Context maps variable names to scalar values (string, float64, bool).
// The zero value is an empty context ready to use.
type Context struct {
	vars map[string]any
}

// New builds a Context from a plain map, normalizing numbers to float64.
// It rejects values that are not strings, numbers or booleans.
func New(values map[string]any) (Context, error) {
	if len(values) == 0 {
		return Context{}, nil
	}
	vars := make(map[string]any, len(values))
	for name, v := range values {
		nv, err := Normalize(v)
		if err != nil {
			return Context{}, fmt.Errorf("variable %q: %w", name, err)
		}
		vars[name] = nv
	}
	return Context{vars: vars}, nil
}

// MustNew is New for literals in tests and fixtures; it panics on bad input.
func MustNew(values map[string]any) Context {
	c, err := New(values)
	if err != nil {
		panic(err)
	}
	return c
}

// Normalize converts v into one of the supported value types.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case string, bool:
		return val, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite number %v", val)
		}
		return val, nil
	case float32:
		return Normalize(float64(val))
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Lookup returns the value bound to name.
func (c Context) Lookup(name string) (any, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Has reports whether name is bound.
func (c Context) Has(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Len returns the number of bound variables.
func (c Context) Len() int {
	return len(c.vars)
}

// Names returns the bound variable names in sorted order.
func (c Context) Names() []string {
	names := make([]string, 0, len(c.vars))
	for name := range c.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of c with name bound to value.
func (c Context) With(name string, value any) (Context, error) {
	return c.Apply(map[string]any{name: value}, nil)
}

// Apply returns a copy of c with set bound and unset removed. Unset is applied
// after set. On error c is returned unchanged alongside the error.
func (c Context) Apply(set map[string]any, unset []string) (Context, error) {
	next := make(map[string]any, len(c.vars)+len(set))
	for k, v := range c.vars {
		next[k] = v
	}
	for name, v := range set {
		if name == "" {
			return c, fmt.Errorf("empty variable name")
		}
		nv, err := Normalize(v)
		if err != nil {
			return c, fmt.Errorf("variable %q: %w", name, err)
		}
		next[name] = nv
	}
	for _, name := range unset {
		delete(next, name)
	}
	return Context{vars: next}, nil
}

// Merge returns a copy of base overlaid with c: names bound in c win.
func (c Context) Merge(base Context) Context {
	out := make(map[string]any, len(base.vars)+len(c.vars))
	for k, v := range base.vars {
		out[k] = v
	}
	for k, v := range c.vars {
		out[k] = v
	}
	return Context{vars: out}
}

// Snapshot copies the bindings of the given names. Names that are not bound
// are left out.
func (c Context) Snapshot(names []string) map[string]any {
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := c.vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

// Map returns a copy of all bindings.
func (c Context) Map() map[string]any {
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Equal reports whether both contexts hold the same bindings.
func (c Context) Equal(other Context) bool {
	if len(c.vars) != len(other.vars) {
		return false
	}
	for k, v := range c.vars {
		ov, ok := other.vars[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the context as a JSON object.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// UnmarshalJSON decodes a JSON object of scalars.
func (c *Context) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := New(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
