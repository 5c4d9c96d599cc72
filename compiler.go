package blockview

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

// execFunc is a lowered instruction.
type execFunc func(s *scope) error

// Program is a compiled template. A Program whose source failed to compile
// still runs; it prints a diagnostic instead of the template.
type Program struct {
	name     string
	source   string
	lines    []string
	compiled bool
	err      error
	body     execFunc
}

// Name returns the template name.
func (p *Program) Name() string { return p.name }

// Source returns the text the program was compiled from.
func (p *Program) Source() string { return p.source }

// Compiled reports whether the program is a genuine compile rather than a diagnostic fallback.
func (p *Program) Compiled() bool { return p.compiled }

// Err returns the syntax error of a diagnostic program.
func (p *Program) Err() error { return p.err }

func (p *Program) run(s *scope) error {
	if p.body == nil {
		return nil
	}
	return p.body(s)
}

// Compiler turns template source into programs.
type Compiler struct {
	delimiters      []Delimiters
	commands        *CommandRegistry
	logger          *slog.Logger
	contextLines    int
	diagnosticLimit int
	blade           bool
}

// NewCompiler creates a compiler. Directive keywords are matched against commands.
func NewCompiler(cfg *Config, commands *CommandRegistry) *Compiler {
	cfg = cfg.withDefaults()
	if commands == nil {
		commands = NewCommandRegistry()
	}
	return &Compiler{
		delimiters:      cfg.Delimiters,
		commands:        commands,
		logger:          cfg.Logger,
		contextLines:    cfg.ContextLines,
		diagnosticLimit: cfg.DiagnosticLimit,
		blade:           cfg.BladeDirectives,
	}
}

// Compile always returns a usable Program. Syntax errors are logged and turn
// the program into one that prints a diagnostic.
func (c *Compiler) Compile(name, source string) *Program {
	p := &Program{
		name:   name,
		source: source,
		lines:  strings.Split(source, "\n"),
	}
	body, err := c.compile(name, source)
	if err != nil {
		c.logger.Error("template failed to compile",
			slog.String("template", name),
			slog.Int("line", errorLine(err)),
			slog.String("error", err.Error()),
			slog.String("source", sourceWindow(p.lines, errorLine(err), c.contextLines)),
		)
		p.err = err
		p.body = diagnostic(name, err, c.diagnosticLimit)
		return p
	}
	p.compiled = true
	p.body = body
	return p
}

func (c *Compiler) compile(name, source string) (execFunc, error) {
	if c.blade {
		source = translateBlade(source, c.delimiters[0])
	}
	segments, err := dissectAll(source, c.delimiters)
	if err != nil {
		var ue *UnterminatedError
		if errors.As(err, &ue) {
			return nil, &ParseError{Template: name, Line: ue.Line, Message: fmt.Sprintf("unterminated %q", ue.Open)}
		}
		return nil, &ParseError{Template: name, Line: 1, Message: err.Error()}
	}
	instrs, err := parseSegments(name, segments, c.commands.Has)
	if err != nil {
		return nil, err
	}
	l := &lowerer{template: name}
	return l.list(instrs)
}

func errorLine(err error) int {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

// diagnostic is the body of a program that failed to compile.
func diagnostic(name string, err error, limit int) execFunc {
	msg := err.Error()
	if limit > 0 && len(msg) > limit {
		msg = msg[:limit] + "..."
	}
	msg = strings.ReplaceAll(msg, "--", "- -")
	text := fmt.Sprintf("<!-- template %q failed to compile: %s -->", name, html.EscapeString(msg))
	return func(s *scope) error {
		s.r.Print(text)
		return nil
	}
}

// lowerer turns instructions into closures, compiling every expression fragment.
type lowerer struct {
	template string
}

func (l *lowerer) errorf(line int, format string, args ...any) error {
	return &ParseError{Template: l.template, Line: line, Message: fmt.Sprintf(format, args...)}
}

func (l *lowerer) expr(line int, fragment string) (*expression, error) {
	e, err := compileExpression(fragment)
	if err != nil {
		return nil, l.errorf(line, "%v", err)
	}
	return e, nil
}

func (l *lowerer) list(instrs []instruction) (execFunc, error) {
	fns := make([]execFunc, 0, len(instrs))
	for _, in := range instrs {
		fn, err := l.lower(in)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return func(s *scope) error {
		for _, fn := range fns {
			if err := fn(s); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (l *lowerer) lower(in instruction) (execFunc, error) {
	switch in := in.(type) {
	case *textInstr:
		text := in.text
		return func(s *scope) error {
			s.r.Print(text)
			return nil
		}, nil
	case *printInstr:
		return l.lowerPrint(in)
	case *evalInstr:
		e, err := l.expr(in.Line(), in.fragment)
		if err != nil {
			return nil, err
		}
		line := in.Line()
		return func(s *scope) error {
			s.at(line)
			_, err := e.eval(s)
			return err
		}, nil
	case *commandInstr:
		return l.lowerCommand(in)
	case *ifInstr:
		return l.lowerIf(in)
	case *eachInstr:
		return l.lowerEach(in)
	case *withInstr:
		return l.lowerWith(in)
	case *switchInstr:
		return l.lowerSwitch(in)
	case *macroInstr:
		return l.lowerMacro(in)
	case *runInstr:
		return l.lowerRun(in)
	case *blockInstr:
		return l.lowerBlock(in)
	}
	return nil, l.errorf(in.Line(), "unknown instruction %T", in)
}

func (l *lowerer) lowerPrint(in *printInstr) (execFunc, error) {
	e, err := l.expr(in.Line(), in.fragment)
	if err != nil {
		return nil, err
	}
	line, raw := in.Line(), in.raw
	return func(s *scope) error {
		s.at(line)
		v, err := e.eval(s)
		if err != nil {
			return err
		}
		switch v := v.(type) {
		case *Placeholder:
			s.r.Print(v)
		case nil:
		default:
			if raw {
				s.r.Print(stringify(v))
			} else {
				s.r.Print(escapeValue(v))
			}
		}
		return nil
	}, nil
}

type compiledArg struct {
	name string
	expr *expression
}

func (l *lowerer) args(line int, frags []argFragment) ([]compiledArg, error) {
	out := make([]compiledArg, 0, len(frags))
	for _, f := range frags {
		e, err := l.expr(line, f.Fragment)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledArg{name: f.Name, expr: e})
	}
	return out, nil
}

func evalArgs(s *scope, args []compiledArg) (Args, error) {
	a := Args{Named: map[string]any{}, Vars: s.vars}
	for _, arg := range args {
		v, err := arg.expr.eval(s)
		if err != nil {
			return a, err
		}
		if arg.name != "" {
			a.Named[arg.name] = v
			continue
		}
		a.Positional = append(a.Positional, v)
	}
	return a, nil
}

func (l *lowerer) lowerCommand(in *commandInstr) (execFunc, error) {
	args, err := l.args(in.Line(), in.args)
	if err != nil {
		return nil, err
	}
	line, name := in.Line(), in.name
	return func(s *scope) error {
		s.at(line)
		a, err := evalArgs(s, args)
		if err != nil {
			return err
		}
		return s.runCommand(name, a)
	}, nil
}

func (l *lowerer) lowerIf(in *ifInstr) (execFunc, error) {
	type branch struct {
		line int
		cond *expression
		body execFunc
	}
	branches := make([]branch, 0, len(in.branches))
	for _, b := range in.branches {
		cond, err := l.expr(b.Line(), b.cond)
		if err != nil {
			return nil, err
		}
		body, err := l.list(b.body)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch{line: b.Line(), cond: cond, body: body})
	}
	otherwise, err := l.list(in.otherwise)
	if err != nil {
		return nil, err
	}
	return func(s *scope) error {
		for _, b := range branches {
			s.at(b.line)
			v, err := b.cond.eval(s)
			if err != nil {
				return err
			}
			if truthy(v) {
				return b.body(s)
			}
		}
		return otherwise(s)
	}, nil
}

func (l *lowerer) lowerEach(in *eachInstr) (execFunc, error) {
	iter, err := l.expr(in.Line(), in.iter)
	if err != nil {
		return nil, err
	}
	body, err := l.list(in.body)
	if err != nil {
		return nil, err
	}
	otherwise, err := l.list(in.otherwise)
	if err != nil {
		return nil, err
	}
	line, keyName, valName := in.Line(), in.key, in.val
	return func(s *scope) error {
		s.at(line)
		v, err := iter.eval(s)
		if err != nil {
			return err
		}
		n := 0
		err = iterate(v, func(key, val any) error {
			n++
			values := map[string]any{valName: val}
			if keyName != "" {
				values[keyName] = key
			}
			return body(s.with(values))
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return otherwise(s)
		}
		return nil
	}, nil
}

// iterate calls fn for every element of a slice, array, map (in key order) or
// for 0..n-1 of an integer. Other values, including nil, have no elements.
func iterate(v any, fn func(key, val any) error) error {
	r := indirect(reflect.ValueOf(v))
	if !r.IsValid() {
		return nil
	}
	switch r.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < r.Len(); i++ {
			if err := fn(i, r.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Map:
		keys := r.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := fn(k.Interface(), r.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for i := int64(0); i < r.Int(); i++ {
			if err := fn(int(i), int(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *lowerer) lowerWith(in *withInstr) (execFunc, error) {
	value, err := l.expr(in.Line(), in.value)
	if err != nil {
		return nil, err
	}
	body, err := l.list(in.body)
	if err != nil {
		return nil, err
	}
	otherwise, err := l.list(in.otherwise)
	if err != nil {
		return nil, err
	}
	line, name := in.Line(), in.name
	return func(s *scope) error {
		s.at(line)
		v, err := value.eval(s)
		if err != nil {
			return err
		}
		if !truthy(v) {
			return otherwise(s)
		}
		return body(s.with(map[string]any{name: v}))
	}, nil
}

func (l *lowerer) lowerSwitch(in *switchInstr) (execFunc, error) {
	value, err := l.expr(in.Line(), in.value)
	if err != nil {
		return nil, err
	}
	type branch struct {
		line  int
		value *expression
		body  execFunc
	}
	cases := make([]branch, 0, len(in.cases))
	for _, c := range in.cases {
		v, err := l.expr(c.Line(), c.cond)
		if err != nil {
			return nil, err
		}
		body, err := l.list(c.body)
		if err != nil {
			return nil, err
		}
		cases = append(cases, branch{line: c.Line(), value: v, body: body})
	}
	def, err := l.list(in.def)
	if err != nil {
		return nil, err
	}
	line := in.Line()
	return func(s *scope) error {
		s.at(line)
		v, err := value.eval(s)
		if err != nil {
			return err
		}
		for _, c := range cases {
			s.at(c.line)
			cv, err := c.value.eval(s)
			if err != nil {
				return err
			}
			if looseEqual(v, cv) {
				return c.body(s)
			}
		}
		return def(s)
	}, nil
}

func (l *lowerer) lowerMacro(in *macroInstr) (execFunc, error) {
	body, err := l.list(in.body)
	if err != nil {
		return nil, err
	}
	line, name := in.Line(), in.name
	return func(s *scope) error {
		s.at(line)
		s.r.defineMacro(name, &macro{program: s.program, body: body})
		return nil
	}, nil
}

func (l *lowerer) lowerRun(in *runInstr) (execFunc, error) {
	args, err := l.args(in.Line(), in.args)
	if err != nil {
		return nil, err
	}
	line, name := in.Line(), in.name
	return func(s *scope) error {
		s.at(line)
		m, ok := s.r.lookupMacro(name)
		if !ok {
			return fmt.Errorf("macro %q is not defined", name)
		}
		a, err := evalArgs(s, args)
		if err != nil {
			return err
		}
		ms := &scope{r: s.r, vars: s.vars.Overlay(a.Named), program: m.program}
		return m.body(ms)
	}, nil
}

func (l *lowerer) lowerBlock(in *blockInstr) (execFunc, error) {
	name, err := l.nameOf(in.Line(), in.name)
	if err != nil {
		return nil, err
	}
	body, err := l.list(in.body)
	if err != nil {
		return nil, err
	}
	line := in.Line()
	return func(s *scope) error {
		s.at(line)
		n, err := name(s)
		if err != nil {
			return err
		}
		s.r.Start(n)
		err = body(s)
		s.r.End(n)
		return err
	}, nil
}

// nameOf accepts bare words as literal names and evaluates anything else.
func (l *lowerer) nameOf(line int, fragment string) (func(*scope) (string, error), error) {
	if reBareName.MatchString(fragment) {
		return func(*scope) (string, error) { return fragment, nil }, nil
	}
	e, err := l.expr(line, fragment)
	if err != nil {
		return nil, err
	}
	return func(s *scope) (string, error) {
		v, err := e.eval(s)
		if err != nil {
			return "", err
		}
		n := stringify(v)
		if n == "" {
			return "", fmt.Errorf("block name %q evaluated to an empty string", fragment)
		}
		return n, nil
	}, nil
}
