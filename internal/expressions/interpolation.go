package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/assertflow/pkg/schema"
)

// Namespaces a ${{...}} reference may start with.
const (
	namespaceVars = "vars"
	namespaceStep = "step"
)

var namespaces = []string{namespaceVars, namespaceStep}

// InterpolationScope holds the data ${{...}} references resolve against.
type InterpolationScope struct {
	Vars Vars           // vars.<name>: the execution context the step receives
	Step map[string]any // step.<field>: id and action of the running step
}

// Interpolator resolves ${{...}} references in decoded step params.
//
// A string that is exactly one reference takes the referenced value with its
// type, so "${{vars.amount}}" yields a number. A reference embedded in longer
// text is rendered into the text. Resolution is pure: params are copied,
// never modified.
type Interpolator struct{}

// NewInterpolator creates an Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve returns a copy of params with every reference replaced.
func (interp *Interpolator) Resolve(params map[string]any, scope *InterpolationScope) (map[string]any, error) {
	out, err := interp.walk(params, func(s string) (any, error) {
		return interp.resolveString(s, scope)
	})
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// walk copies v, passing every string through fn. Map keys are visited in
// sorted order so the first reported error does not depend on map iteration.
func (interp *Interpolator) walk(v any, fn func(string) (any, error)) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := sortedKeys(val)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			resolved, err := interp.walk(val[k], fn)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interp.walk(item, fn)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return fn(val)
	default:
		return v, nil
	}
}

// reference is one ${{...}} token: its byte span in the source string and
// the trimmed path between the braces.
type reference struct {
	start, end int
	path       string
}

// scanReferences finds every ${{...}} token in s.
func scanReferences(s string) ([]reference, error) {
	var refs []reference
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			break
		}
		start := i + idx
		body := start + 3

		end := strings.Index(s[body:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ reference").
				WithDetails(map[string]any{"text": s})
		}
		end += body

		path := strings.TrimSpace(s[body:end])
		if strings.Contains(path, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{").
				WithDetails(map[string]any{"text": s})
		}
		if path == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty reference: ${{ }}")
		}

		refs = append(refs, reference{start: start, end: end + 2, path: path})
		i = end + 2
	}
	return refs, nil
}

func (interp *Interpolator) resolveString(s string, scope *InterpolationScope) (any, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	refs, err := scanReferences(s)
	if err != nil {
		return nil, err
	}

	if len(refs) == 1 && refs[0].start == 0 && refs[0].end == len(s) {
		return interp.resolvePath(refs[0].path, scope)
	}

	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, ref := range refs {
		b.WriteString(s[prev:ref.start])
		val, err := interp.resolvePath(ref.path, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(renderInline(val))
		prev = ref.end
	}
	b.WriteString(s[prev:])
	return b.String(), nil
}

// resolvePath resolves one reference path like "vars.balance" or "step.id".
func (interp *Interpolator) resolvePath(path string, scope *InterpolationScope) (any, error) {
	namespace, field, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	switch namespace {
	case namespaceVars:
		if scope == nil || scope.Vars == nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "cannot resolve %q: no variables in scope", path)
		}
		val, ok := scope.Vars.Lookup(field)
		if !ok {
			available := sortedKeys(scope.Vars.Map())
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"variable %q not bound in ${{%s}}; available: [%s]", field, path, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": path, "available_vars": available})
		}
		return val, nil
	default: // namespaceStep
		var step map[string]any
		if scope != nil {
			step = scope.Step
		}
		val, ok := step[field]
		if !ok {
			available := sortedKeys(step)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"unknown step field %q in ${{%s}}; available: [%s]", field, path, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": path, "available_fields": available})
		}
		return val, nil
	}
}

// splitPath separates the namespace from the field. Variable names may
// themselves contain dots, so only the first dot splits.
func splitPath(path string) (namespace, field string, err error) {
	namespace, field, _ = strings.Cut(path, ".")
	switch namespace {
	case namespaceVars, namespaceStep:
	default:
		return "", "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, path, strings.Join(namespaces, ", ")).
			WithDetails(map[string]any{"expression": path, "available_namespaces": namespaces})
	}
	if field == "" {
		return "", "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q: expected %s.<name>", path, namespace).
			WithDetails(map[string]any{"expression": path})
	}
	return namespace, field, nil
}

// ReferencedVars lists the variables params read through ${{vars.<name>}},
// in sorted-key walk order without duplicates. Malformed references and
// unknown namespaces are errors.
func ReferencedVars(params map[string]any) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	_, err := (&Interpolator{}).walk(params, func(s string) (any, error) {
		refs, err := scanReferences(s)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			namespace, field, err := splitPath(ref.path)
			if err != nil {
				return nil, err
			}
			if namespace == namespaceVars && !seen[field] {
				seen[field] = true
				names = append(names, field)
			}
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// HasInterpolation reports whether raw params contain any ${{...}} reference.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "${{")
}

// renderInline formats a resolved value for embedding in text. Strings are
// written without quotes.
func renderInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
