package blockview

import (
	"fmt"
	"html"
	"math"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	exprparser "github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// lookupFunc is the name every bare identifier is rewritten to call.
const lookupFunc = "$lookup"

// fetchFunc is the name index expressions on looked up values are rewritten to call.
const fetchFunc = "$fetch"

// expression is a compiled host expression.
type expression struct {
	source  string
	program *vm.Program
}

func compileExpression(source string) (*expression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tree, err := exprparser.Parse(source)
	if err != nil {
		return nil, err
	}
	locals := declaredNames{}
	ast.Walk(&tree.Node, locals)

	program, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.Patch(scopePatcher{locals: locals}),
	)
	if err != nil {
		return nil, err
	}
	return &expression{source: source, program: program}, nil
}

// eval runs the expression against s. Panics raised by functions reachable
// from the expression are returned as errors.
func (e *expression) eval(s *scope) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return expr.Run(e.program, map[string]any{lookupFunc: s.lookup, fetchFunc: fetch})
}

func (e *expression) String() string {
	return e.source
}

// declaredNames collects the names bound by let declarations.
type declaredNames map[string]bool

func (d declaredNames) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.VariableDeclaratorNode); ok {
		d[n.Name] = true
	}
}

// scopePatcher rewrites identifiers and constant member paths into explicit
// scope lookups, so "a.b.c" becomes $lookup("a.b.c"). Indexing into a looked
// up value becomes $fetch, so a[0].b on a missing a is nil instead of an error.
// Names bound by let are left to the expression.
type scopePatcher struct {
	locals declaredNames
}

func (p scopePatcher) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if strings.HasPrefix(n.Value, "$") || p.locals[n.Value] {
			return
		}
		*node = lookupCall(n.Value)
	case *ast.MemberNode:
		if base, ok := lookupPath(n.Node); ok {
			if prop, ok := n.Property.(*ast.StringNode); ok {
				*node = lookupCall(base + "." + prop.Value)
				return
			}
		} else if !isFetch(n.Node) {
			return
		}
		*node = &ast.CallNode{
			Callee:    &ast.IdentifierNode{Value: fetchFunc},
			Arguments: []ast.Node{n.Node, n.Property},
		}
	}
}

func lookupCall(path string) *ast.CallNode {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: lookupFunc},
		Arguments: []ast.Node{&ast.StringNode{Value: path}},
	}
}

// lookupPath reports the path of a node previously produced by lookupCall.
func lookupPath(node ast.Node) (string, bool) {
	call, ok := node.(*ast.CallNode)
	if !ok || len(call.Arguments) != 1 {
		return "", false
	}
	callee, ok := call.Callee.(*ast.IdentifierNode)
	if !ok || callee.Value != lookupFunc {
		return "", false
	}
	arg, ok := call.Arguments[0].(*ast.StringNode)
	if !ok {
		return "", false
	}
	return arg.Value, true
}

func isFetch(node ast.Node) bool {
	call, ok := node.(*ast.CallNode)
	if !ok {
		return false
	}
	callee, ok := call.Callee.(*ast.IdentifierNode)
	return ok && callee.Value == fetchFunc
}

// fetch indexes base by key the way a path step does. Missing bases, keys and
// out of range indexes yield nil. Negative indexes count from the end.
func fetch(base, key any) any {
	if base == nil || key == nil {
		return nil
	}
	r := indirect(reflect.ValueOf(base))
	if !r.IsValid() {
		return nil
	}
	switch r.Kind() {
	case reflect.Map:
		kt := r.Type().Key()
		if kt.Kind() == reflect.String {
			break
		}
		k := reflect.ValueOf(key)
		if !k.Type().ConvertibleTo(kt) {
			return nil
		}
		v := indirectInterface(r.MapIndex(k.Convert(kt)))
		if !v.IsValid() || !v.CanInterface() {
			return nil
		}
		return v.Interface()
	case reflect.Slice, reflect.Array, reflect.String:
		if f, ok := toFloat(key); ok && f < 0 {
			key = int(f) + r.Len()
		}
	}
	return walkPath(base, []string{stringify(key)})
}

// HTML marks a string as safe markup that escaped printing leaves untouched.
type HTML string

// stringify renders a value for output. nil renders as the empty string.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case HTML:
		return string(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	return fmt.Sprint(val)
}

// escapeValue is stringify with HTML escaping for everything not marked as HTML.
func escapeValue(val any) string {
	if h, ok := val.(HTML); ok {
		return string(h)
	}
	return html.EscapeString(stringify(val))
}

// truthy returns whether the value is 'true', in the sense of not the zero of its type.
func truthy(i any) (truth bool) {
	val := reflect.ValueOf(i)
	if !val.IsValid() {
		return false
	}
	switch val.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		truth = val.Len() > 0
	case reflect.Bool:
		truth = val.Bool()
	case reflect.Complex64, reflect.Complex128:
		truth = val.Complex() != 0
	case reflect.Chan, reflect.Func, reflect.Pointer, reflect.Interface:
		truth = !val.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		truth = val.Int() != 0
	case reflect.Float32, reflect.Float64:
		truth = val.Float() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		truth = val.Uint() != 0
	case reflect.Struct:
		truth = true
	}
	return
}

// looseEqual compares numbers by value regardless of their Go type and
// everything else with reflect.DeepEqual.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	r := reflect.ValueOf(v)
	switch r.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(r.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(r.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := r.Float()
		return f, !math.IsNaN(f)
	}
	return 0, false
}
