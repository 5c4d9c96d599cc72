package blockview

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is wrapped by every error a TemplateSource returns for an unknown name.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrPlaceholderTimeout is the failure recorded by a placeholder whose producer did not
	// finish within the configured timeout.
	ErrPlaceholderTimeout = errors.New("placeholder timed out")
)

// ParseError is a syntax error found while compiling a template.
type ParseError struct {
	Template string
	Line     int
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("[%s] line %d: %s", e.Template, e.Line, e.Message)
}

// UnterminatedError reports a code segment that was still open at the end of the source.
type UnterminatedError struct {
	Open string
	Line int
}

func (e *UnterminatedError) Error() string {
	return fmt.Sprintf("line %d: unterminated %q", e.Line, e.Open)
}

// RuntimeError is a failure raised while a compiled program was running.
type RuntimeError struct {
	Template string
	Line     int
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%s] line %d: %v", e.Template, e.Line, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned by template sources for names they cannot resolve.
type NotFoundError struct {
	Name  string
	Tried []string
}

func (e *NotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("template %q not found", e.Name)
	}
	return fmt.Sprintf("template %q not found (tried %v)", e.Name, e.Tried)
}

func (e *NotFoundError) Unwrap() error {
	return ErrTemplateNotFound
}

// BlockNotFoundError is passed to Finish callbacks for a block that was never written.
type BlockNotFoundError struct {
	Block string
}

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("block %q not found", e.Block)
}

// panicError wraps a value recovered from a panicking command, helper or expression.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
