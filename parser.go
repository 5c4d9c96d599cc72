package blockview

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// instruction is a node of the tree the parser builds from segments.
type instruction interface {
	Line() int
}

type pos int

func (p pos) Line() int { return int(p) }

type (
	// textInstr prints literal markup.
	textInstr struct {
		pos
		text string
	}
	// printInstr prints the value of an expression.
	printInstr struct {
		pos
		fragment string
		raw      bool
	}
	// evalInstr runs an expression for its side effects.
	evalInstr struct {
		pos
		fragment string
	}
	// commandInstr calls a registered command.
	commandInstr struct {
		pos
		name string
		args []argFragment
	}
	ifInstr struct {
		pos
		branches  []condBranch
		otherwise []instruction
	}
	condBranch struct {
		pos
		cond string
		body []instruction
	}
	eachInstr struct {
		pos
		iter      string
		key, val  string
		body      []instruction
		otherwise []instruction
	}
	withInstr struct {
		pos
		value     string
		name      string
		body      []instruction
		otherwise []instruction
	}
	switchInstr struct {
		pos
		value      string
		cases      []condBranch
		def        []instruction
		hasDefault bool
	}
	macroInstr struct {
		pos
		name string
		body []instruction
	}
	runInstr struct {
		pos
		name string
		args []argFragment
	}
	blockInstr struct {
		pos
		name string
		body []instruction
	}
)

var (
	reIdent    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reBareName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
)

// terminator is the directive that ended a parseList call.
type terminator struct {
	keyword string
	rest    string
	line    int
}

type parser struct {
	template  string
	segments  []Segment
	pos       int
	isCommand func(string) bool
}

// parseSegments builds the instruction tree of a template.
func parseSegments(template string, segments []Segment, isCommand func(string) bool) ([]instruction, error) {
	if isCommand == nil {
		isCommand = func(string) bool { return false }
	}
	p := &parser{template: template, segments: segments, isCommand: isCommand}
	list, _, err := p.parseList()
	return list, err
}

func (p *parser) errorf(line int, format string, args ...any) error {
	return &ParseError{Template: p.template, Line: line, Message: fmt.Sprintf(format, args...)}
}

// parseList parses instructions until one of terms is found. At the end of the
// input the returned terminator has an empty keyword.
func (p *parser) parseList(terms ...string) ([]instruction, terminator, error) {
	var list []instruction
	for p.pos < len(p.segments) {
		seg := p.segments[p.pos]
		p.pos++

		if seg.Kind == Literal {
			list = append(list, &textInstr{pos: pos(seg.LineStart), text: seg.Text})
			continue
		}

		code := strings.TrimSpace(seg.Text)
		line := seg.LineStart
		if code == "" || strings.HasPrefix(code, "#") {
			continue
		}
		switch code[0] {
		case '=':
			in, err := p.parsePrint(line, code[1:], false)
			if err != nil {
				return nil, terminator{}, err
			}
			list = append(list, in)
			continue
		case '-':
			in, err := p.parsePrint(line, code[1:], true)
			if err != nil {
				return nil, terminator{}, err
			}
			list = append(list, in)
			continue
		}

		keyword, rest := splitKeyword(code)
		if slices.Contains(terms, keyword) {
			return list, terminator{keyword: keyword, rest: rest, line: line}, nil
		}
		in, err := p.parseCode(line, code, keyword, rest)
		if err != nil {
			return nil, terminator{}, err
		}
		list = append(list, in)
	}
	return list, terminator{}, nil
}

func (p *parser) parsePrint(line int, fragment string, raw bool) (instruction, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, p.errorf(line, "nothing to print")
	}
	return &printInstr{pos: pos(line), fragment: fragment, raw: raw}, nil
}

func (p *parser) parseCode(line int, code, keyword, rest string) (instruction, error) {
	switch keyword {
	case "if":
		return p.parseIf(line, rest)
	case "each":
		return p.parseEach(line, rest)
	case "with":
		return p.parseWith(line, rest)
	case "switch":
		return p.parseSwitch(line, rest)
	case "macro":
		return p.parseMacro(line, rest)
	case "run":
		return p.parseRun(line, rest)
	case "block":
		return p.parseBlock(line, rest)
	case "elseif", "else", "case", "default":
		return nil, p.errorf(line, "unexpected %s", keyword)
	}
	if strings.HasPrefix(keyword, "/") {
		return nil, p.errorf(line, "unexpected %s", keyword)
	}
	if p.isCommand(keyword) {
		args, err := splitArgs(rest)
		if err != nil {
			return nil, p.errorf(line, "%s: %v", keyword, err)
		}
		return &commandInstr{pos: pos(line), name: keyword, args: args}, nil
	}
	return &evalInstr{pos: pos(line), fragment: code}, nil
}

func (p *parser) parseIf(line int, cond string) (instruction, error) {
	if cond == "" {
		return nil, p.errorf(line, "if requires a condition")
	}
	in := &ifInstr{pos: pos(line)}
	branch := condBranch{pos: pos(line), cond: cond}
	for {
		body, term, err := p.parseList("elseif", "else", "/if")
		if err != nil {
			return nil, err
		}
		branch.body = body
		in.branches = append(in.branches, branch)

		switch term.keyword {
		case "":
			return nil, p.errorf(line, "if is never closed")
		case "elseif":
			if term.rest == "" {
				return nil, p.errorf(term.line, "elseif requires a condition")
			}
			branch = condBranch{pos: pos(term.line), cond: term.rest}
		case "else":
			otherwise, end, err := p.parseList("/if")
			if err != nil {
				return nil, err
			}
			if end.keyword == "" {
				return nil, p.errorf(line, "if is never closed")
			}
			in.otherwise = otherwise
			return in, nil
		case "/if":
			return in, nil
		}
	}
}

// splitAs splits "EXPR as NAMES" headers.
func (p *parser) splitAs(line int, directive, header string) (string, []string, error) {
	i := strings.LastIndex(header, " as ")
	if i < 0 {
		return "", nil, p.errorf(line, "%s expects \"EXPR as NAME\"", directive)
	}
	value := strings.TrimSpace(header[:i])
	if value == "" {
		return "", nil, p.errorf(line, "%s requires a value", directive)
	}
	var names []string
	for _, n := range strings.Split(header[i+4:], ",") {
		n = strings.TrimSpace(n)
		if !reIdent.MatchString(n) {
			return "", nil, p.errorf(line, "%s: invalid variable name %q", directive, n)
		}
		names = append(names, n)
	}
	return value, names, nil
}

func (p *parser) parseEach(line int, header string) (instruction, error) {
	iter, names, err := p.splitAs(line, "each", header)
	if err != nil {
		return nil, err
	}
	in := &eachInstr{pos: pos(line), iter: iter}
	switch len(names) {
	case 1:
		in.val = names[0]
	case 2:
		in.key, in.val = names[0], names[1]
	default:
		return nil, p.errorf(line, "each takes one or two variable names")
	}
	in.body, in.otherwise, err = p.parseBodyElse(line, "each", "/each")
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) parseWith(line int, header string) (instruction, error) {
	value, names, err := p.splitAs(line, "with", header)
	if err != nil {
		return nil, err
	}
	if len(names) != 1 {
		return nil, p.errorf(line, "with takes one variable name")
	}
	in := &withInstr{pos: pos(line), value: value, name: names[0]}
	in.body, in.otherwise, err = p.parseBodyElse(line, "with", "/with")
	if err != nil {
		return nil, err
	}
	return in, nil
}

// parseBodyElse parses "body [else otherwise] end".
func (p *parser) parseBodyElse(line int, directive, end string) (body, otherwise []instruction, err error) {
	body, term, err := p.parseList("else", end)
	if err != nil {
		return nil, nil, err
	}
	switch term.keyword {
	case "":
		return nil, nil, p.errorf(line, "%s is never closed", directive)
	case "else":
		var last terminator
		otherwise, last, err = p.parseList(end)
		if err != nil {
			return nil, nil, err
		}
		if last.keyword == "" {
			return nil, nil, p.errorf(line, "%s is never closed", directive)
		}
	}
	return body, otherwise, nil
}

func (p *parser) parseSwitch(line int, value string) (instruction, error) {
	if value == "" {
		return nil, p.errorf(line, "switch requires a value")
	}
	in := &switchInstr{pos: pos(line), value: value}

	// only whitespace may sit between the switch and its first case
	p.skipBlank()
	if p.pos >= len(p.segments) {
		return nil, p.errorf(line, "switch is never closed")
	}
	seg := p.segments[p.pos]
	if seg.Kind != Code {
		return nil, p.errorf(seg.LineStart, "unexpected text before first case")
	}
	keyword, rest := splitKeyword(strings.TrimSpace(seg.Text))
	term := terminator{keyword: keyword, rest: rest, line: seg.LineStart}
	p.pos++

	for {
		switch term.keyword {
		case "case":
			if term.rest == "" {
				return nil, p.errorf(term.line, "case requires a value")
			}
			branch := condBranch{pos: pos(term.line), cond: term.rest}
			body, next, err := p.parseList("case", "default", "/switch")
			if err != nil {
				return nil, err
			}
			branch.body = body
			in.cases = append(in.cases, branch)
			term = next
		case "default":
			if in.hasDefault {
				return nil, p.errorf(term.line, "duplicate default")
			}
			body, next, err := p.parseList("case", "default", "/switch")
			if err != nil {
				return nil, err
			}
			in.def, in.hasDefault = body, true
			term = next
		case "/switch":
			return in, nil
		case "":
			return nil, p.errorf(line, "switch is never closed")
		default:
			return nil, p.errorf(term.line, "expected case, default or /switch, got %q", term.keyword)
		}
	}
}

func (p *parser) parseMacro(line int, name string) (instruction, error) {
	if !reIdent.MatchString(name) {
		return nil, p.errorf(line, "macro requires a name, got %q", name)
	}
	body, term, err := p.parseList("/macro")
	if err != nil {
		return nil, err
	}
	if term.keyword == "" {
		return nil, p.errorf(line, "macro %s is never closed", name)
	}
	return &macroInstr{pos: pos(line), name: name, body: body}, nil
}

func (p *parser) parseRun(line int, rest string) (instruction, error) {
	name, body := splitKeyword(rest)
	if !reIdent.MatchString(name) {
		return nil, p.errorf(line, "run requires a macro name, got %q", name)
	}
	args, err := splitArgs(body)
	if err != nil {
		return nil, p.errorf(line, "run %s: %v", name, err)
	}
	for _, a := range args {
		if a.Name == "" {
			return nil, p.errorf(line, "run %s: arguments must be named, got %q", name, a.Fragment)
		}
	}
	return &runInstr{pos: pos(line), name: name, args: args}, nil
}

func (p *parser) parseBlock(line int, name string) (instruction, error) {
	if name == "" {
		return nil, p.errorf(line, "block requires a name")
	}
	body, term, err := p.parseList("/block")
	if err != nil {
		return nil, err
	}
	if term.keyword == "" {
		return nil, p.errorf(line, "block %s is never closed", name)
	}
	return &blockInstr{pos: pos(line), name: name, body: body}, nil
}

// skipBlank moves past whitespace-only literal segments.
func (p *parser) skipBlank() {
	for p.pos < len(p.segments) {
		seg := p.segments[p.pos]
		if seg.Kind != Literal || strings.TrimSpace(seg.Text) != "" {
			return
		}
		p.pos++
	}
}
