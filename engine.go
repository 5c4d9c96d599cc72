package blockview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/alphadose/haxmap"
	"golang.org/x/sync/singleflight"
)

// Engine compiles templates from a source and creates renderers for them.
// Compiled programs are cached by name and shared by every renderer.
type Engine struct {
	source   TemplateSource
	config   *Config
	compiler *Compiler
	commands *CommandRegistry
	helpers  *HelperRegistry
	programs *haxmap.Map[string, *Program]
	group    singleflight.Group
}

// New creates an engine reading templates from source. A nil cfg uses DefaultConfig.
// An *FSSource is copied and set to try the configured extensions.
func New(source TemplateSource, cfg *Config) *Engine {
	cfg = cfg.withDefaults()
	if fsrc, ok := source.(*FSSource); ok && fsrc != nil {
		configured := *fsrc
		source = configured.WithExtensions(cfg.Extensions...)
	}
	commands := NewCommandRegistry()
	return &Engine{
		source:   source,
		config:   cfg,
		compiler: NewCompiler(cfg, commands),
		commands: commands,
		helpers:  NewHelperRegistry(),
		programs: haxmap.New[string, *Program](),
	}
}

// NewEngine creates a new engine pointing to a directory with files.
func NewEngine(dir string) *Engine {
	return NewEngineFS(os.DirFS(dir))
}

// NewEngineFS creates a new engine pointing to a filesystem.
// When using embed.FS, pass the embedded folder as prefix.
func NewEngineFS(fsys fs.FS, prefix ...string) *Engine {
	return New(NewFSSource(fsys, prefix...), nil)
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.config }

// Commands returns the command registry shared by the engine's renderers.
func (e *Engine) Commands() *CommandRegistry { return e.commands }

// RegisterCommand makes cmd callable from templates as name. Templates compiled
// before the call keep treating name as an expression.
func (e *Engine) RegisterCommand(name string, cmd Command) {
	e.commands.Register(name, cmd)
}

// RegisterHelper makes the value built by helper reachable from templates as name.
func (e *Engine) RegisterHelper(name string, helper Helper) {
	e.helpers.Register(name, helper)
}

// Compile compiles source under name and caches the result. Compiling the
// same source again returns the cached program.
func (e *Engine) Compile(name, source string) *Program {
	name = e.normalize(name)
	if p, ok := e.programs.Get(name); ok && p.source == source {
		return p
	}
	p := e.compiler.Compile(name, source)
	e.programs.Set(name, p)
	return p
}

// Program returns the compiled program for name, loading it from the source
// on first use. Concurrent first requests share one load.
func (e *Engine) Program(ctx context.Context, name string) (*Program, error) {
	name = e.normalize(name)
	if p, ok := e.programs.Get(name); ok {
		return p, nil
	}
	v, err, _ := e.group.Do(name, func() (any, error) {
		if p, ok := e.programs.Get(name); ok {
			return p, nil
		}
		if e.source == nil {
			return nil, &NotFoundError{Name: name}
		}
		src, err := e.source.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		return e.Compile(name, src), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Program), nil
}

// Load compiles every template the source lists. Templates whose source has
// not changed keep their cached program.
func (e *Engine) Load(ctx context.Context) error {
	lister, ok := e.source.(TemplateLister)
	if !ok {
		return fmt.Errorf("template source %T cannot list templates", e.source)
	}
	names, err := lister.Names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		src, err := e.source.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("[%s] %w", name, err)
		}
		e.Compile(name, src)
	}
	return nil
}

// Forget drops cached programs so they are loaded again on next use.
func (e *Engine) Forget(names ...string) {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, e.normalize(name))
	}
	e.programs.Del(keys...)
}

func (e *Engine) normalize(name string) string {
	return trimName(name, e.config.Extensions)
}

// Programs returns the names of the cached programs.
func (e *Engine) Programs() []string {
	var names []string
	e.programs.ForEach(func(name string, _ *Program) bool {
		names = append(names, name)
		return true
	})
	return names
}

// NewRenderer creates a renderer for one render call.
func (e *Engine) NewRenderer(ctx context.Context) *Renderer {
	return newRenderer(ctx, e, nil)
}

// Render executes the template identified by name (e.g., "pages/home") with
// data, waits for its main block and writes it to w.
func (e *Engine) Render(ctx context.Context, w io.Writer, name string, data any) error {
	r := e.NewRenderer(ctx)
	if err := r.ExecuteTemplate(name, NewVars(data), true); err != nil {
		return err
	}
	html, err := r.FinishContext(ctx, DefaultBlock)
	var missing *BlockNotFoundError
	if err != nil && !errors.As(err, &missing) {
		return err
	}
	_, err = io.WriteString(w, html)
	return err
}
