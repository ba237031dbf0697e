package cmd

import "context"

// Middleware decorates a command: logging, guards, panic recovery.
type Middleware func(Command) Command

// Apply decorates c with mws. The last middleware ends up outermost, so it
// is the first to see an invocation.
func Apply(c Command, mws ...Middleware) Command {
	for _, mw := range mws {
		c = mw(c)
	}
	return c
}

// RunFunc is the body a middleware substitutes for the wrapped command.
type RunFunc func(ctx context.Context, inv *Invocation) error

type wrapped struct {
	inner Command
	run   RunFunc
}

func (w *wrapped) Name() string        { return w.inner.Name() }
func (w *wrapped) Description() string { return w.inner.Description() }
func (w *wrapped) Unwrap() Command     { return w.inner }

func (w *wrapped) Run(ctx context.Context, inv *Invocation) error {
	if w.run == nil {
		return w.inner.Run(ctx, inv)
	}
	return w.run(ctx, inv)
}

// Wrap returns c with run as its body. Name and Description stay c's and
// Root still reaches the original command through it.
func Wrap(c Command, run RunFunc) Command {
	return &wrapped{inner: c, run: run}
}

// Root strips every Wrap layer and returns the registered command, so
// callers can type-assert it to Aliased or a metadata interface.
func Root(c Command) Command {
	type unwrapper interface{ Unwrap() Command }
	for {
		u, ok := c.(unwrapper)
		if !ok {
			return c
		}
		c = u.Unwrap()
	}
}
