package expressions

import (
	"sync"

	"github.com/rendis/assertflow/pkg/schema"
)

// NativeEngine compiles the built-in condition language: comparisons
// (=, !=, <, <=, >, >=) combined with and/or/not over variables and
// string, number and boolean literals.
// Thread-safe: compiled conditions are cached and reused across goroutines.
type NativeEngine struct {
	mu    sync.RWMutex
	cache map[string]*nativeCondition
}

// NewNativeEngine creates a new native condition engine.
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{
		cache: make(map[string]*nativeCondition),
	}
}

// Dialect returns the dialect identifier.
func (e *NativeEngine) Dialect() schema.Dialect {
	return schema.DialectNative
}

// Compile parses (or retrieves from cache) a native condition.
func (e *NativeEngine) Compile(expression string) (Condition, error) {
	e.mu.RLock()
	if c, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	root, err := parse(expression)
	if err != nil {
		return nil, err
	}
	c := &nativeCondition{source: expression, root: root, refs: references(root)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.cache[expression]; ok {
		return cached, nil
	}
	e.cache[expression] = c
	return c, nil
}

type nativeCondition struct {
	source string
	root   node
	refs   []string
}

func (c *nativeCondition) Source() string { return c.source }

func (c *nativeCondition) References() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

func (c *nativeCondition) Eval(vars Vars) (bool, error) {
	ev := &evaluator{vars: vars}
	return ev.evalBool(c.root)
}

// Evaluate compiles and evaluates a native condition in one call.
func Evaluate(expression string, vars Vars) (bool, error) {
	root, err := parse(expression)
	if err != nil {
		return false, err
	}
	ev := &evaluator{vars: vars}
	return ev.evalBool(root)
}

var _ ConditionEngine = (*NativeEngine)(nil)
