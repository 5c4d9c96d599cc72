package blockview

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// sourceWindow renders the lines around line (1-based) with numbers, marking
// line itself with '>'. It returns "" when line is outside lines.
func sourceWindow(lines []string, line, around int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	from := max(line-around, 1)
	to := min(line+around, len(lines))
	width := len(fmt.Sprint(to))

	var sb strings.Builder
	for i := from; i <= to; i++ {
		marker := " "
		if i == line {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s %*d | %s\n", marker, width, i, strings.TrimRight(lines[i-1], "\r"))
	}
	return sb.String()
}

func (r *Renderer) logger() *slog.Logger {
	return r.engine.config.Logger
}

// fail attributes err to the template line the renderer is running, records
// it and logs it with the surrounding source.
func (r *Renderer) fail(err error) {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()

	var re *RuntimeError
	if !errors.As(err, &re) {
		re = &RuntimeError{Template: loc.template(), Line: loc.line, Err: err}
	}
	r.record(loc.program, re)
}

// report attributes err to an explicit template line.
func (r *Renderer) report(p *Program, line int, err error) {
	name := ""
	if p != nil {
		name = p.name
	}
	r.record(p, &RuntimeError{Template: name, Line: line, Err: err})
}

func (r *Renderer) record(p *Program, err *RuntimeError) {
	r.errs.record(err)

	attrs := []any{
		slog.String("template", err.Template),
		slog.Int("line", err.Line),
		slog.String("error", err.Err.Error()),
	}
	if p != nil && err.Template == p.name {
		if window := sourceWindow(p.lines, err.Line, r.engine.config.ContextLines); window != "" {
			attrs = append(attrs, slog.String("source", window))
		}
	}
	r.logger().Error("template runtime error", attrs...)
}

// placeholderFailed logs a placeholder that could not produce its content.
func (r *Renderer) placeholderFailed(block string, err error) {
	r.errs.record(fmt.Errorf("block %q: %w", block, err))
	r.logger().Warn("placeholder failed",
		slog.String("block", block),
		slog.String("error", err.Error()),
	)
}
