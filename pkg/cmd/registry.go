package cmd

import (
	"sort"
	"strings"
	"sync"
)

// Registry stores commands by name and alias. It does not perform dispatch;
// each adapter looks up commands and invokes them with its own context.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	aliases  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
		aliases:  make(map[string]string),
	}
}

// Register adds a command, applying middlewares in order.
func (r *Registry) Register(c Command, mws ...Middleware) {
	c = Apply(c, mws...)
	name := strings.ToLower(c.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = c
	if a, ok := Root(c).(Aliased); ok {
		for _, alias := range a.Aliases() {
			r.aliases[strings.ToLower(alias)] = name
		}
	}
}

// Get returns the command registered under name or one of its aliases, or nil.
func (r *Registry) Get(name string) Command {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.commands[name]; ok {
		return c
	}
	if target, ok := r.aliases[name]; ok {
		return r.commands[target]
	}
	return nil
}

// GetAll returns all registered commands, sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}
