package blockview

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// argFragment is an unevaluated command argument. Named is empty for positional ones.
type argFragment struct {
	Name     string
	Fragment string
}

var reNamedArg = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([^=\s].*)$`)

// splitArgs splits a command body into arguments. Top level whitespace and
// commas separate arguments; quotes, parentheses, brackets and braces group.
// Pieces joined by an operator stay one argument, so "a" + b is a single
// expression. "key=value" and "key = value" become named arguments.
func splitArgs(body string) ([]argFragment, error) {
	pieces, err := splitTopLevel(body)
	if err != nil {
		return nil, err
	}
	pieces = joinOperators(pieces)
	args := make([]argFragment, 0, len(pieces))
	for _, piece := range pieces {
		if m := reNamedArg.FindStringSubmatch(piece); m != nil {
			args = append(args, argFragment{Name: m[1], Fragment: m[2]})
			continue
		}
		args = append(args, argFragment{Fragment: piece})
	}
	return args, nil
}

func splitTopLevel(body string) ([]string, error) {
	var (
		pieces []string
		cur    strings.Builder
		stack  []rune
		quote  rune
		escape bool
	)
	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
	}

	for _, r := range body {
		if quote != 0 {
			cur.WriteRune(r)
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch {
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != opening(r) {
				return nil, fmt.Errorf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		case len(stack) == 0 && (r == ',' || unicode.IsSpace(r)):
			flush()
			continue
		}
		cur.WriteRune(r)
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated string")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	flush()
	return pieces, nil
}

// operatorWords are the expression operators spelled as words.
var operatorWords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true,
}

// binarySymbols may start a piece only as the right side of an operator.
// "+" and "-" are left out since a leading sign also starts a new argument.
var binarySymbols = []string{"==", "!=", "<", ">", "*", "/", "%", "&&", "||", "??", "?", ":", "=", ".."}

// trailingSymbols mark a piece whose operator still needs a right side.
var trailingSymbols = []string{"+", "-", "*", "/", "%", "=", "<", ">", "&", "|", "?", ":", "!", ".."}

// joinOperators merges whitespace separated pieces that belong to one
// expression: a lone operator, a piece starting with a binary operator, or
// one ending in an operator joins its neighbours.
func joinOperators(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	pending := false
	for _, piece := range pieces {
		if n := len(out); n > 0 && (pending || startsBinary(piece)) {
			out[n-1] += " " + piece
		} else {
			out = append(out, piece)
		}
		pending = operatorWords[piece] || endsWithOperator(piece)
	}
	return out
}

func startsBinary(piece string) bool {
	if piece == "+" || piece == "-" || (operatorWords[piece] && piece != "not") {
		return true
	}
	for _, sym := range binarySymbols {
		if strings.HasPrefix(piece, sym) {
			return true
		}
	}
	return false
}

func endsWithOperator(piece string) bool {
	for _, sym := range trailingSymbols {
		if strings.HasSuffix(piece, sym) {
			return true
		}
	}
	return false
}

func opening(r rune) rune {
	switch r {
	case ')':
		return '('
	case ']':
		return '['
	}
	return '{'
}

// splitKeyword splits code on its first run of whitespace.
func splitKeyword(code string) (keyword, rest string) {
	i := strings.IndexFunc(code, unicode.IsSpace)
	if i < 0 {
		return code, ""
	}
	return code[:i], strings.TrimSpace(code[i:])
}
