package expressions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"

	"github.com/rendis/assertflow/pkg/schema"
)

// CELEngine compiles conditions written in Google's Common Expression Language.
// Every bound variable of the execution context is declared as a top-level
// dyn variable, so `total > 10.0 && status == "paid"` reads context variables
// directly. Programs depend on the set of bound names and are cached per
// (expression, names) pair.
// Thread-safe: parsed conditions and programs are cached and reused across goroutines.
type CELEngine struct {
	base *cel.Env

	mu       sync.RWMutex
	parsed   map[string]*celCondition
	programs map[string]cel.Program
}

var undeclaredRef = regexp.MustCompile(`undeclared reference to '([^']+)'`)

// NewCELEngine creates a new CEL condition engine.
func NewCELEngine() (*CELEngine, error) {
	base, err := cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{
		base:     base,
		parsed:   make(map[string]*celCondition),
		programs: make(map[string]cel.Program),
	}, nil
}

// Dialect returns the dialect identifier.
func (e *CELEngine) Dialect() schema.Dialect {
	return schema.DialectCEL
}

// Compile parses a CEL expression and records the variables it references.
// Type checking is deferred to evaluation, when the bound names are known.
func (e *CELEngine) Compile(expression string) (Condition, error) {
	e.mu.RLock()
	if c, ok := e.parsed[expression]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	if strings.TrimSpace(expression) == "" {
		return nil, schema.ParseError(0, "empty expression")
	}

	ast, iss := e.base.Parse(expression)
	if iss != nil && iss.Err() != nil {
		return nil, celParseError(iss)
	}

	c := &celCondition{engine: e, source: expression, refs: celReferences(ast.NativeRep().Expr())}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.parsed[expression]; ok {
		return cached, nil
	}
	e.parsed[expression] = c
	return c, nil
}

// program returns a checked program for expression with the given variables declared.
func (e *CELEngine) program(expression string, names []string) (cel.Program, error) {
	key := expression + "\x00" + strings.Join(names, "\x00")

	e.mu.RLock()
	if prg, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := e.base.Extend(opts...)
	if err != nil {
		return nil, schema.TypeMismatch("declare CEL variables: %s", err.Error())
	}

	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		if m := undeclaredRef.FindStringSubmatch(iss.Err().Error()); m != nil {
			return nil, schema.UnboundVariable(m[1])
		}
		return nil, schema.TypeMismatch("%s", iss.Err().Error())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.TypeMismatch("CEL program error: %s", err.Error())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[key] = prg
	return prg, nil
}

type celCondition struct {
	engine *CELEngine
	source string
	refs   []string
}

func (c *celCondition) Source() string { return c.source }

func (c *celCondition) References() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

func (c *celCondition) Eval(vars Vars) (bool, error) {
	activation := vars.Map()
	names := make([]string, 0, len(activation))
	for name := range activation {
		names = append(names, name)
	}
	sort.Strings(names)

	prg, err := c.engine.program(c.source, names)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, schema.TypeMismatch("CEL evaluation failed: %s", err.Error())
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, schema.TypeMismatch("condition must evaluate to a boolean, got %s", out.Type().TypeName())
	}
	return b, nil
}

// celParseError converts the first CEL parse issue into a parse_error with a
// byte offset for single-line expressions.
func celParseError(iss *cel.Issues) error {
	errs := iss.Errors()
	if len(errs) == 0 {
		return schema.ParseError(0, "%s", iss.Err().Error())
	}
	first := errs[0]
	pos := 0
	if loc := first.Location; loc != nil && loc.Line() == 1 && loc.Column() >= 0 {
		pos = loc.Column()
	}
	return schema.ParseError(pos, "%s", first.Message)
}

// celReferences collects identifiers and qualified names (a.b.c) used by the
// expression, skipping comprehension variables introduced by macros.
func celReferences(root celast.Expr) []string {
	var candidates []string
	local := make(map[string]struct{})

	celast.PostOrderVisit(root, celast.NewExprVisitor(func(e celast.Expr) {
		switch e.Kind() {
		case celast.IdentKind:
			candidates = append(candidates, e.AsIdent())
		case celast.SelectKind:
			if name, ok := qualifiedName(e); ok {
				candidates = append(candidates, name)
			}
		case celast.ComprehensionKind:
			comp := e.AsComprehension()
			local[comp.IterVar()] = struct{}{}
			local[comp.AccuVar()] = struct{}{}
		}
	}))

	var refs []string
	seen := make(map[string]struct{})
	for _, name := range candidates {
		root := strings.SplitN(name, ".", 2)[0]
		if _, isLocal := local[root]; isLocal {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		refs = append(refs, name)
	}
	return refs
}

func qualifiedName(e celast.Expr) (string, bool) {
	switch e.Kind() {
	case celast.IdentKind:
		return e.AsIdent(), true
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return "", false
		}
		prefix, ok := qualifiedName(sel.Operand())
		if !ok {
			return "", false
		}
		return prefix + "." + sel.FieldName(), true
	default:
		return "", false
	}
}

var _ ConditionEngine = (*CELEngine)(nil)
