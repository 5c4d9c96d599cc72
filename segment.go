package blockview

import (
	"fmt"
	"strings"
)

// SegmentKind tells literal markup apart from embedded code.
type SegmentKind int

const (
	Literal SegmentKind = iota
	Code
)

func (k SegmentKind) String() string {
	if k == Code {
		return "code"
	}
	return "literal"
}

// Segment is a contiguous run of literal text or code.
// Lines are 1-based. LineEnd is the line the segment ends on, which is where the
// next segment starts.
type Segment struct {
	Kind      SegmentKind
	Text      string
	LineStart int
	LineEnd   int
	// Open is the delimiter that opened a Code segment.
	Open string
}

func (s Segment) String() string {
	return fmt.Sprintf("%s[%d-%d]%q", s.Kind, s.LineStart, s.LineEnd, s.Text)
}

// Delimiters is an open/close marker pair.
type Delimiters struct {
	Open  string `yaml:"open" toml:"open" validate:"required"`
	Close string `yaml:"close" toml:"close" validate:"required"`
}

// Dissect splits source into literal and code segments using a single delimiter pair.
//
// A code segment still open at the end of source is closed at EOF and returned
// along with an *UnterminatedError, so callers can choose to accept or reject it.
func Dissect(source, open, close string) ([]Segment, error) {
	return dissectFrom(source, open, close, 1)
}

func dissectFrom(source, open, close string, line int) ([]Segment, error) {
	if open == "" || close == "" {
		return nil, fmt.Errorf("empty delimiter pair %q %q", open, close)
	}

	var (
		segments []Segment
		buf      strings.Builder
		kind     = Literal
		start    = line
		pos      = 0
	)

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		seg := Segment{Kind: kind, Text: buf.String(), LineStart: start, LineEnd: line}
		if kind == Code {
			seg.Open = open
		}
		segments = append(segments, seg)
		buf.Reset()
	}

	for pos < len(source) {
		switch {
		case kind == Literal && strings.HasPrefix(source[pos:], open):
			flush()
			kind = Code
			pos += len(open)
			start = line
		case kind == Code && strings.HasPrefix(source[pos:], close):
			if buf.Len() == 0 {
				// keep empty code segments so "<%%>" still counts as code
				segments = append(segments, Segment{Kind: Code, LineStart: start, LineEnd: line, Open: open})
			}
			flush()
			kind = Literal
			pos += len(close)
			start = line
		default:
			c := source[pos]
			if buf.Len() == 0 {
				start = line
			}
			buf.WriteByte(c)
			if c == '\n' {
				line++
			}
			pos++
		}
	}

	if kind == Code {
		openLine := start
		flush()
		return segments, &UnterminatedError{Open: open, Line: openLine}
	}
	flush()
	return segments, nil
}

// dissectAll applies every delimiter pair in order. Each later pair only looks
// at the literal segments produced by the earlier ones.
func dissectAll(source string, pairs []Delimiters) ([]Segment, error) {
	segments := []Segment{{Kind: Literal, Text: source, LineStart: 1, LineEnd: 1 + strings.Count(source, "\n")}}
	for _, pair := range pairs {
		next := make([]Segment, 0, len(segments))
		for _, seg := range segments {
			if seg.Kind == Code {
				next = append(next, seg)
				continue
			}
			parts, err := dissectFrom(seg.Text, pair.Open, pair.Close, seg.LineStart)
			if err != nil {
				return nil, err
			}
			next = append(next, parts...)
		}
		segments = next
	}
	return segments, nil
}
