package blockview

import (
	"context"
	"errors"
	"fmt"
)

// Extend queues a template to run after the current main template, with the
// same variables and blocks. Each name is queued once per renderer.
func (r *Renderer) Extend(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extended[name] {
		return
	}
	r.extended[name] = true
	r.extensions = append(r.extensions, name)
}

// Assign prints the final content of block name into the current block. When
// the block is never written, or is empty, def is printed instead.
func (r *Renderer) Assign(name string, def any) {
	r.mu.Lock()
	from := r.resolve(r.current())
	to := r.resolve(name)
	cycle := r.reaches(to, from)
	if !cycle {
		r.assigns[from] = append(r.assigns[from], to)
	}
	r.mu.Unlock()

	if cycle {
		r.fail(fmt.Errorf("assigning block %q into %q would never finish", name, from))
		r.Print(stringify(def))
		return
	}

	fallback := stringify(def)
	r.Print(r.newPlaceholder(func(ctx context.Context) (string, error) {
		html, err := r.FinishContext(ctx, to)
		var missing *BlockNotFoundError
		if errors.As(err, &missing) {
			return fallback, nil
		}
		if err != nil {
			return "", err
		}
		if html == "" {
			return fallback, nil
		}
		return html, nil
	}))
}

// reaches reports whether block to is reachable from block from through assigns.
func (r *Renderer) reaches(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, r.assigns[cur]...)
	}
	return false
}

// Implement renders the named template, and the templates it extends, with
// vars in a child renderer and prints its main block here.
func (r *Renderer) Implement(name string, vars *Vars) {
	r.subRender(name, vars)
}

// Partial is Implement with a fresh variable bag; the caller's variables are
// not visible to the template.
func (r *Renderer) Partial(name string, vars *Vars) {
	if vars == nil {
		vars = NewVars(nil)
	}
	r.subRender(name, vars)
}

func (r *Renderer) subRender(name string, vars *Vars) {
	child := r.child()
	if err := child.ExecuteTemplate(name, vars, true); err != nil {
		r.fail(err)
		return
	}
	r.Print(r.newPlaceholder(func(ctx context.Context) (string, error) {
		html, err := child.FinishContext(ctx, DefaultBlock)
		var missing *BlockNotFoundError
		if errors.As(err, &missing) {
			return "", nil
		}
		return html, err
	}))
}

// Include runs the named template inline: it writes into this renderer's
// blocks, starting with the current one.
func (r *Renderer) Include(name string, vars *Vars) error {
	p, err := r.engine.Program(r.ctx, name)
	if err != nil {
		return err
	}
	release := r.Hold()
	defer release()
	r.runProgram(p, vars, "")
	return nil
}
