package blockview

import (
	"strings"
)

// scope is what a running program resolves names against: renderer
// intrinsics first, then the variable bag.
type scope struct {
	r       *Renderer
	vars    *Vars
	program *Program
}

func (s *scope) with(values map[string]any) *scope {
	return &scope{r: s.r, vars: s.vars.Overlay(values), program: s.program}
}

// at records the source line about to run.
func (s *scope) at(line int) {
	s.r.setLocation(s.program, line)
}

// lookup resolves a dotted path. Unknown names yield nil.
func (s *scope) lookup(path string) any {
	head, rest, _ := strings.Cut(path, ".")
	if v, ok := s.intrinsic(head); ok {
		if rest == "" {
			return v
		}
		return walkPath(v, strings.Split(rest, "."))
	}
	return s.vars.Lookup(path)
}

func (s *scope) intrinsic(name string) (any, bool) {
	switch name {
	case "renderer":
		return s.r, true
	case "scene":
		return s.r.scene, true
	case "vars":
		return s.vars, true
	case "command":
		return func(name any, args ...any) any {
			s.call(stringify(name), args)
			return nil
		}, true
	case "raw":
		return func(v any) HTML { return HTML(stringify(v)) }, true
	case "escape":
		return func(v any) string { return escapeValue(v) }, true
	}
	if s.r.engine.commands.Has(name) {
		return func(args ...any) any {
			s.call(name, args)
			return nil
		}, true
	}
	if h, ok := s.r.helper(name); ok {
		return h, true
	}
	return nil, false
}

// call runs a command from expression code. Failures panic so the expression
// evaluator reports them like any other runtime error.
func (s *scope) call(name string, positional []any) {
	if err := s.runCommand(name, Args{Positional: positional, Vars: s.vars}); err != nil {
		panic(err)
	}
}

func (s *scope) runCommand(name string, args Args) error {
	cmd, ok := s.r.engine.commands.Get(name)
	if !ok {
		return &unknownCommandError{name: name}
	}
	if args.Named == nil {
		args.Named = map[string]any{}
	}
	ph, err := cmd.Run(s.r, args)
	if err != nil {
		return err
	}
	if ph != nil {
		s.r.Print(ph)
	}
	return nil
}

type unknownCommandError struct {
	name string
}

func (e *unknownCommandError) Error() string {
	return "unknown command: " + e.name
}
