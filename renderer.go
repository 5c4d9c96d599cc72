package blockview

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// location is the template line a renderer is currently running.
type location struct {
	program *Program
	line    int
}

func (l location) template() string {
	if l.program == nil {
		return ""
	}
	return l.program.name
}

type macro struct {
	program *Program
	body    execFunc
}

// errorLog collects the runtime errors of a renderer and its children.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) record(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) list() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

// Scene is state shared by a renderer and every child renderer it creates.
type Scene struct {
	mu     sync.RWMutex
	values map[string]any
}

func newScene() *Scene {
	return &Scene{values: map[string]any{}}
}

// Get returns the value stored under key, or nil.
func (s *Scene) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Set stores value under key and returns it.
func (s *Scene) Set(key string, value any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return value
}

// Renderer runs programs into named blocks. One renderer serves one render
// call; sub-renders get child renderers that share the engine registries and
// the scene but own their blocks.
//
// Programs run on the caller's goroutine and a renderer tree must only run one
// program at a time. Placeholders resolve on their own goroutines.
type Renderer struct {
	ctx    context.Context
	engine *Engine
	parent *Renderer
	scene  *Scene
	errs   *errorLog

	mu          sync.Mutex
	blocks      map[string]*Block
	order       []string
	chain       []string
	outstanding int
	waiting     []func()
	extensions  []string
	extended    map[string]bool
	extIndex    int
	mainBlock   string
	loc         location
	macros      map[string]*macro
	helpers     map[string]any
	assigns     map[string][]string
}

func newRenderer(ctx context.Context, e *Engine, parent *Renderer) *Renderer {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Renderer{
		ctx:      ctx,
		engine:   e,
		parent:   parent,
		blocks:   map[string]*Block{},
		extended: map[string]bool{},
		macros:   map[string]*macro{},
		helpers:  map[string]any{},
		assigns:  map[string][]string{},
	}
	if parent != nil {
		r.scene = parent.scene
		r.errs = parent.errs
	} else {
		r.scene = newScene()
		r.errs = &errorLog{}
	}
	return r
}

func (r *Renderer) child() *Renderer {
	return newRenderer(r.ctx, r.engine, r)
}

// Context returns the context the renderer was created with.
func (r *Renderer) Context() context.Context { return r.ctx }

// Engine returns the engine that created the renderer.
func (r *Renderer) Engine() *Engine { return r.engine }

// Scene returns the state shared with child renderers.
func (r *Renderer) Scene() *Scene { return r.scene }

// Parent returns the renderer that created r, or nil.
func (r *Renderer) Parent() *Renderer { return r.parent }

// Errors returns the runtime errors recorded by r and its children.
func (r *Renderer) Errors() []error { return r.errs.list() }

// CurrentBlock returns the block Print writes to by default.
func (r *Renderer) CurrentBlock() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current()
}

func (r *Renderer) current() string {
	if n := len(r.chain); n > 0 {
		return r.chain[n-1]
	}
	return DefaultBlock
}

// resolve maps the DefaultBlock sentinel onto the main block once one exists.
func (r *Renderer) resolve(name string) string {
	if name == DefaultBlock && r.mainBlock != "" {
		return r.mainBlock
	}
	return name
}

// Location returns the template and line currently running.
func (r *Renderer) Location() (template string, line int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loc.template(), r.loc.line
}

func (r *Renderer) setLocation(p *Program, line int) {
	r.mu.Lock()
	r.loc = location{program: p, line: line}
	r.mu.Unlock()
}

// Blocks returns the names of the blocks written so far, in creation order.
func (r *Renderer) Blocks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Start makes name the current block.
func (r *Renderer) Start(name string) {
	r.mu.Lock()
	r.chain = append(r.chain, name)
	r.mu.Unlock()
}

// End closes the most recent block named name together with every block opened
// after it. Without a name, or when no open block matches, one block is closed.
func (r *Renderer) End(name ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.chain)
	if n == 0 {
		return
	}
	if len(name) == 0 || name[0] == "" {
		r.chain = r.chain[:n-1]
		return
	}
	for i := n - 1; i >= 0; i-- {
		if r.chain[i] == name[0] {
			r.chain = r.chain[:i]
			return
		}
	}
	r.logger().Warn("end does not match an open block",
		"block", name[0],
		"current", r.chain[n-1],
		"template", r.loc.template(),
		"line", r.loc.line,
	)
	r.chain = r.chain[:n-1]
}

// Print appends content to a block, the current one unless a name is given.
// content may be a string, HTML, a *Placeholder or any printable value.
// DefaultBlock always means the main block, including for content printed
// before the first main Execute.
func (r *Renderer) Print(content any, block ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.current()
	if len(block) > 0 && block[0] != "" {
		name = block[0]
	}
	b := r.block(r.resolve(name))
	switch v := content.(type) {
	case nil:
	case *Placeholder:
		b.appendPlaceholder(v)
	case string:
		b.appendText(v)
	default:
		b.appendText(stringify(v))
	}
}

func (r *Renderer) block(name string) *Block {
	b, ok := r.blocks[name]
	if !ok {
		b = newBlock(name)
		r.blocks[name] = b
		r.order = append(r.order, name)
	}
	return b
}

// Hold marks work in flight so Finish waits for it. The returned release
// function ends the hold; calling it more than once has no further effect.
func (r *Renderer) Hold() (release func()) {
	r.mu.Lock()
	r.outstanding++
	r.mu.Unlock()
	return sync.OnceFunc(r.release)
}

// Outstanding returns the number of executions and holds in flight.
func (r *Renderer) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outstanding
}

func (r *Renderer) release() {
	r.mu.Lock()
	if r.outstanding > 0 {
		r.outstanding--
	}
	var waiting []func()
	if r.outstanding == 0 {
		waiting, r.waiting = r.waiting, nil
	}
	r.mu.Unlock()

	for _, fn := range waiting {
		fn()
	}
}

func syntheticBlock(template string) string {
	return template + DefaultBlock
}

// Execute runs p into this renderer. Runtime errors are logged and recorded,
// never returned. When main is set the templates p extends run afterwards,
// in order, against the same variables and blocks.
func (r *Renderer) Execute(p *Program, vars *Vars, main bool) {
	r.mu.Lock()
	r.outstanding++
	first := main && r.mainBlock == ""
	if first {
		r.mainBlock = syntheticBlock(p.name)
		r.adoptDefault()
	}
	r.mu.Unlock()
	defer r.release()

	r.runProgram(p, vars, syntheticBlock(p.name))
	if !main {
		return
	}

	for {
		name, ok := r.nextExtension()
		if !ok {
			break
		}
		ext, err := r.engine.Program(r.ctx, name)
		if err != nil {
			r.report(p, 0, err)
			continue
		}
		r.Execute(ext, vars, false)
		if first {
			r.mu.Lock()
			r.mainBlock = syntheticBlock(ext.name)
			r.mu.Unlock()
		}
	}
}

// adoptDefault moves content printed to DefaultBlock before there was a main
// block to the front of the main block, so Finish(DefaultBlock) still sees it.
func (r *Renderer) adoptDefault() {
	b, ok := r.blocks[DefaultBlock]
	if !ok {
		return
	}
	delete(r.blocks, DefaultBlock)
	if existing, ok := r.blocks[r.mainBlock]; ok {
		b.flush()
		b.entries = append(b.entries, existing.snapshot()...)
		r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == r.mainBlock })
	}
	b.Name = r.mainBlock
	r.blocks[r.mainBlock] = b
	if i := slices.Index(r.order, DefaultBlock); i >= 0 {
		r.order[i] = r.mainBlock
	}
}

// ExecuteTemplate loads, compiles and executes the named template.
func (r *Renderer) ExecuteTemplate(name string, vars *Vars, main bool) error {
	p, err := r.engine.Program(r.ctx, name)
	if err != nil {
		return err
	}
	r.Execute(p, vars, main)
	return nil
}

func (r *Renderer) nextExtension() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extIndex >= len(r.extensions) {
		return "", false
	}
	name := r.extensions[r.extIndex]
	r.extIndex++
	return name, true
}

// runProgram runs p, inside block when one is given. Errors and panics stop p
// and are reported with the line that was running.
func (r *Renderer) runProgram(p *Program, vars *Vars, block string) {
	if vars == nil {
		vars = NewVars(nil)
	}
	r.mu.Lock()
	depth := len(r.chain)
	prev := r.loc
	if block != "" {
		r.chain = append(r.chain, block)
	}
	r.loc = location{program: p}
	r.mu.Unlock()

	defer func() {
		if v := recover(); v != nil {
			r.fail(&panicError{value: v})
		}
		r.mu.Lock()
		if len(r.chain) > depth {
			r.chain = r.chain[:depth]
		}
		r.loc = prev
		r.mu.Unlock()
	}()

	if err := p.run(&scope{r: r, vars: vars, program: p}); err != nil {
		r.fail(err)
	}
}

// Finish assembles a block and passes it to onDone. While executions or holds
// are in flight it only queues the request and returns; the request is served
// when the last of them ends. onDone may run on another goroutine.
func (r *Renderer) Finish(block string, onDone func(html string, err error)) {
	if block == "" {
		block = DefaultBlock
	}
	r.mu.Lock()
	if r.outstanding > 0 {
		r.waiting = append(r.waiting, func() { r.Finish(block, onDone) })
		r.mu.Unlock()
		return
	}
	name := r.resolve(block)
	b, ok := r.blocks[name]
	var entries []entry
	if ok {
		entries = b.snapshot()
	}
	r.mu.Unlock()

	if !ok {
		onDone("", &BlockNotFoundError{Block: block})
		return
	}
	if !hasPlaceholders(entries) {
		onDone(joinTexts(entries), nil)
		return
	}
	go func() {
		onDone(r.assemble(name, entries), nil)
	}()
}

// FinishContext is Finish for callers that want to block. It must not be
// called from a program running on the same renderer.
func (r *Renderer) FinishContext(ctx context.Context, block string) (string, error) {
	type result struct {
		html string
		err  error
	}
	ch := make(chan result, 1)
	r.Finish(block, func(html string, err error) {
		ch <- result{html, err}
	})
	select {
	case res := <-ch:
		return res.html, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// assemble resolves the placeholders of entries with bounded concurrency and
// joins everything in entry order. Failed placeholders contribute nothing.
func (r *Renderer) assemble(block string, entries []entry) string {
	parts := make([]string, len(entries))
	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.engine.config.Concurrency)
	for i, e := range entries {
		if e.placeholder == nil {
			parts[i] = e.text
			continue
		}
		g.Go(func() error {
			v, err := e.placeholder.Wait(ctx)
			if err != nil {
				r.placeholderFailed(block, err)
				return nil
			}
			parts[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return strings.Join(parts, "")
}

func (r *Renderer) newPlaceholder(producer Producer) *Placeholder {
	return newPlaceholder(r.ctx, producer, r.engine.config.PlaceholderTimeout)
}

func (r *Renderer) defineMacro(name string, m *macro) {
	r.mu.Lock()
	r.macros[name] = m
	r.mu.Unlock()
}

// lookupMacro finds a macro defined in r or one of its parents.
func (r *Renderer) lookupMacro(name string) (*macro, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		m, ok := cur.macros[name]
		cur.mu.Unlock()
		if ok {
			return m, true
		}
	}
	return nil, false
}

// helper returns the renderer's instance of a registered helper.
func (r *Renderer) helper(name string) (any, bool) {
	r.mu.Lock()
	h, ok := r.helpers[name]
	r.mu.Unlock()
	if ok {
		return h, true
	}
	ctor, ok := r.engine.helpers.Get(name)
	if !ok {
		return nil, false
	}
	h = ctor(r)
	r.mu.Lock()
	if existing, ok := r.helpers[name]; ok {
		h = existing
	} else {
		r.helpers[name] = h
	}
	r.mu.Unlock()
	return h, true
}
