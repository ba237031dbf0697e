// Package cmd provides a transport-agnostic command core: a command is something
// with a name, description, and Run(ctx, invocation). How it is dispatched
// (chat prefix, CLI) is defined by adapters that wrap this.
package cmd

import (
	"context"
	"strings"
)

// Invocation carries the minimal input any command runner can pass: arguments
// and an opaque payload. Adapters set Data to their context.
type Invocation struct {
	Name string
	Args []string
	Data any
}

// Command is the universal contract: identity plus execution.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Aliased is implemented by commands reachable under extra names.
type Aliased interface {
	Aliases() []string
}

// Parse splits a chat line into an invocation when it starts with prefix.
// The command token is matched case-insensitively; arguments keep their case.
func Parse(prefix, line string) (*Invocation, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || prefix == "" || !strings.HasPrefix(fields[0], prefix) {
		return nil, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], prefix))
	if name == "" {
		return nil, false
	}
	return &Invocation{Name: name, Args: fields[1:]}, true
}
