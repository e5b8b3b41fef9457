package expressions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	exprparser "github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/assertflow/pkg/schema"
)

// ExprEngine evaluates expr-lang/expr expressions. It serves two roles:
//   - Engine: computed assignments for the expr.eval action (any result type).
//   - ConditionEngine: the "expr" assertion dialect (boolean results only).
//
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
	parsed   map[string]*exprCondition
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		programs: make(map[string]*vm.Program),
		parsed:   make(map[string]*exprCondition),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Dialect returns the dialect identifier.
func (e *ExprEngine) Dialect() schema.Dialect {
	return schema.DialectExpr
}

// Evaluate compiles (or retrieves from cache) an Expr expression and runs it
// with data as the environment. Unknown names evaluate to nil.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile("eval\x00"+expression, func() (*vm.Program, error) {
		return expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// Compile parses an expr condition and records the variables it references.
func (e *ExprEngine) Compile(expression string) (Condition, error) {
	e.mu.RLock()
	if c, ok := e.parsed[expression]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	if strings.TrimSpace(expression) == "" {
		return nil, schema.ParseError(0, "empty expression")
	}

	tree, err := exprparser.Parse(expression)
	if err != nil {
		return nil, exprParseError(err)
	}

	c := &exprCondition{engine: e, source: expression, refs: exprReferences(&tree.Node)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.parsed[expression]; ok {
		return cached, nil
	}
	e.parsed[expression] = c
	return c, nil
}

// getOrCompile returns a cached program or compiles and caches a new one.
func (e *ExprEngine) getOrCompile(key string, compile func() (*vm.Program, error)) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	prg, err := compile()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.programs[key]; ok {
		return cached, nil
	}
	e.programs[key] = prg
	return prg, nil
}

type exprCondition struct {
	engine *ExprEngine
	source string
	refs   []string
}

func (c *exprCondition) Source() string { return c.source }

func (c *exprCondition) References() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

func (c *exprCondition) Eval(vars Vars) (bool, error) {
	for _, name := range c.refs {
		if _, ok := vars.Lookup(name); !ok {
			return false, schema.UnboundVariable(name)
		}
	}

	env := vars.Map()
	prg, err := c.engine.getOrCompile(conditionKey(c.source, env), func() (*vm.Program, error) {
		return expr.Compile(c.source, expr.Env(env), expr.AsBool())
	})
	if err != nil {
		return false, schema.TypeMismatch("%s", err.Error())
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.TypeMismatch("expr evaluation failed: %s", err.Error())
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.TypeMismatch("condition must evaluate to a boolean, got %T", out)
	}
	return b, nil
}

// conditionKey identifies a compiled condition by expression and the typed
// shape of its environment: expr type-checks against the value types.
func conditionKey(expression string, env map[string]any) string {
	names := make([]string, 0, len(env))
	for name, v := range env {
		names = append(names, fmt.Sprintf("%s:%T", name, v))
	}
	sort.Strings(names)
	return "cond\x00" + expression + "\x00" + strings.Join(names, ",")
}

func exprParseError(err error) error {
	var fileErr *file.Error
	if errors.As(err, &fileErr) {
		return schema.ParseError(fileErr.Column, "%s", fileErr.Message)
	}
	return schema.ParseError(0, "%s", err.Error())
}

// refCollector gathers free identifiers, skipping names introduced by let.
type refCollector struct {
	names []string
	seen  map[string]struct{}
	local map[string]struct{}
}

func (v *refCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if _, ok := v.seen[n.Value]; !ok {
			v.seen[n.Value] = struct{}{}
			v.names = append(v.names, n.Value)
		}
	case *ast.VariableDeclaratorNode:
		v.local[n.Name] = struct{}{}
	}
}

func exprReferences(root *ast.Node) []string {
	v := &refCollector{seen: make(map[string]struct{}), local: make(map[string]struct{})}
	ast.Walk(root, v)

	refs := make([]string, 0, len(v.names))
	for _, name := range v.names {
		if _, ok := v.local[name]; !ok {
			refs = append(refs, name)
		}
	}
	return refs
}

var (
	_ Engine          = (*ExprEngine)(nil)
	_ ConditionEngine = (*ExprEngine)(nil)
)
