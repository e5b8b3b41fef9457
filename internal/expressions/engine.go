package expressions

import (
	"context"

	"github.com/rendis/assertflow/pkg/schema"
)

// Engine evaluates data expressions for step actions.
// Two implementations: GoJQ (transforms) and Expr (computed assignments).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Vars is the read-only view of an execution context that conditions see.
type Vars interface {
	Lookup(name string) (any, bool)
	Map() map[string]any
}

// Condition is a compiled boolean expression. Implementations are immutable
// and safe for concurrent use; Eval is pure and returns either a boolean or a
// *schema.EvalError.
type Condition interface {
	Source() string
	// References lists the variables the condition reads, in order of first use.
	References() []string
	Eval(vars Vars) (bool, error)
}

// ConditionEngine compiles conditions of one dialect. Compile errors are
// always *schema.EvalError with kind parse_error.
type ConditionEngine interface {
	Dialect() schema.Dialect
	Compile(expression string) (Condition, error)
}

// Dialects maps each supported dialect to its condition engine.
type Dialects struct {
	engines map[schema.Dialect]ConditionEngine
}

// NewDialects creates the registry with the native, cel and expr dialects.
// The CEL environment is built eagerly so a broken build fails at startup.
func NewDialects() (*Dialects, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	d := &Dialects{engines: make(map[schema.Dialect]ConditionEngine, 3)}
	d.Register(NewNativeEngine())
	d.Register(celEngine)
	d.Register(NewExprEngine())
	return d, nil
}

// Register adds or replaces the engine for its dialect.
func (d *Dialects) Register(engine ConditionEngine) {
	d.engines[engine.Dialect()] = engine
}

// Get returns the engine for dialect. The empty dialect resolves to native.
func (d *Dialects) Get(dialect schema.Dialect) (ConditionEngine, error) {
	if dialect == "" {
		dialect = schema.DialectNative
	}
	engine, ok := d.engines[dialect]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression dialect %q", dialect)
	}
	return engine, nil
}

// Compile compiles expression in the given dialect.
func (d *Dialects) Compile(dialect schema.Dialect, expression string) (Condition, error) {
	engine, err := d.Get(dialect)
	if err != nil {
		return nil, err
	}
	return engine.Compile(expression)
}
