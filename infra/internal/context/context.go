// Package context wraps a standard context with a mutable value store, so
// middleware can pass values down a chain without re-deriving contexts.
package context

import (
	"context"
	"sync"
	"time"
)

// ContextKey resolves the wrapped *Context from any context derived
// from it.
type ContextKey struct{}

// Wrap returns ctx itself when it is already wrapped.
func Wrap(ctx context.Context) *Context {
	if c, ok := ctx.(*Context); ok {
		return c
	}
	return &Context{
		ctx: ctx,
	}
}

type Context struct {
	ctx   context.Context
	store sync.Map
}

func (c *Context) Deadline() (deadline time.Time, ok bool) {
	return c.ctx.Deadline()
}

func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Context) Err() error {
	return c.ctx.Err()
}

func (c *Context) Value(key any) any {
	if _, ok := key.(ContextKey); ok {
		return c
	}
	if value, exist := c.store.Load(key); exist {
		return value
	}
	return c.ctx.Value(key)
}

func (c *Context) Set(key, val any) {
	c.store.Store(key, val)
}
