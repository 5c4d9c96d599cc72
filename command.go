package blockview

import (
	"fmt"
	"sort"
	"sync"
)

// Args are the evaluated arguments of a command call.
type Args struct {
	Positional []any
	Named      map[string]any
	// Vars is the variable bag of the calling template.
	Vars *Vars
}

// Get returns the positional argument at i, or nil.
func (a Args) Get(i int) any {
	if i < 0 || i >= len(a.Positional) {
		return nil
	}
	return a.Positional[i]
}

// String returns the positional argument at i rendered as a string.
func (a Args) String(i int) string {
	return stringify(a.Get(i))
}

// Strings returns every positional argument rendered as a string.
func (a Args) Strings() []string {
	out := make([]string, 0, len(a.Positional))
	for _, v := range a.Positional {
		out = append(out, stringify(v))
	}
	return out
}

// Values merges a map passed as positional argument i with the named arguments.
func (a Args) Values(i int) map[string]any {
	out := map[string]any{}
	if m, ok := a.Get(i).(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range a.Named {
		out[k] = v
	}
	return out
}

// Command is a handler a template can call by name. A returned placeholder is
// printed into the current block.
type Command interface {
	Run(r *Renderer, args Args) (*Placeholder, error)
}

// CommandFunc adapts a function to Command.
type CommandFunc func(r *Renderer, args Args) (*Placeholder, error)

func (f CommandFunc) Run(r *Renderer, args Args) (*Placeholder, error) {
	return f(r, args)
}

// Helper constructs a value templates can reach by name. It is called at most
// once per renderer, on first use.
type Helper func(r *Renderer) any

// CommandRegistry maps command names to handlers. It is safe for concurrent use.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewCommandRegistry returns a registry holding the built-in block commands.
func NewCommandRegistry() *CommandRegistry {
	reg := &CommandRegistry{commands: map[string]Command{}}
	for name, cmd := range builtinCommands() {
		reg.commands[name] = cmd
	}
	return reg
}

// Register adds or replaces a command.
func (c *CommandRegistry) Register(name string, cmd Command) {
	c.mu.Lock()
	c.commands[name] = cmd
	c.mu.Unlock()
}

// Unregister removes a command and reports whether it existed.
func (c *CommandRegistry) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.commands[name]; !ok {
		return false
	}
	delete(c.commands, name)
	return true
}

// Get returns the command registered under name.
func (c *CommandRegistry) Get(name string) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.commands[name]
	return cmd, ok
}

// Has reports whether name is registered.
func (c *CommandRegistry) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns the registered names in sorted order.
func (c *CommandRegistry) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HelperRegistry maps helper names to constructors. It is safe for concurrent use.
type HelperRegistry struct {
	mu      sync.RWMutex
	helpers map[string]Helper
}

func NewHelperRegistry() *HelperRegistry {
	return &HelperRegistry{helpers: map[string]Helper{}}
}

func (h *HelperRegistry) Register(name string, helper Helper) {
	h.mu.Lock()
	h.helpers[name] = helper
	h.mu.Unlock()
}

func (h *HelperRegistry) Get(name string) (Helper, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	helper, ok := h.helpers[name]
	return helper, ok
}

// builtinCommands returns the block engine instructions compiled programs call.
func builtinCommands() map[string]Command {
	return map[string]Command{
		"print": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			if len(args.Positional) == 0 {
				return nil, fmt.Errorf("print requires content")
			}
			if block, ok := args.Named["block"]; ok {
				r.Print(args.Get(0), stringify(block))
				return nil, nil
			}
			if len(args.Positional) > 1 {
				r.Print(args.Get(0), args.String(1))
				return nil, nil
			}
			r.Print(args.Get(0))
			return nil, nil
		}),
		"start": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("start requires a block name")
			}
			r.Start(name)
			return nil, nil
		}),
		"end": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			r.End(args.Strings()...)
			return nil, nil
		}),
		"assign": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("assign requires a block name")
			}
			def := args.Get(1)
			if v, ok := args.Named["default"]; ok {
				def = v
			}
			r.Assign(name, def)
			return nil, nil
		}),
		"extend": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("extend requires a template name")
			}
			r.Extend(name)
			return nil, nil
		}),
		"implement": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("implement requires a template name")
			}
			r.Implement(name, args.Vars.Overlay(args.Values(1)))
			return nil, nil
		}),
		"partial": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("partial requires a template name")
			}
			r.Partial(name, NewVars(args.Values(1)))
			return nil, nil
		}),
		"include": CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
			name := args.String(0)
			if name == "" {
				return nil, fmt.Errorf("include requires a template name")
			}
			return nil, r.Include(name, args.Vars.Overlay(args.Values(1)))
		}),
	}
}
