// Package middleware provides per-method middleware chains for the server.
// A chain is assembled through RouterGroup before the server starts and is
// walked for every call routed to its method path.
package middleware

import (
	"context"

	wctx "github.com/NirvanaNimbusa/grpc-server-go/infra/internal/context"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
)

// Middleware is one link of a chain. Returning an error aborts the call
// with that error; calling Next runs the rest of the chain inline.
type Middleware func(ctx context.Context) error

// SetInto a function to save the value into the call context
func SetInto(c context.Context, key, val any) {
	if ctx, ok := c.Value(wctx.ContextKey{}).(*wctx.Context); ok {
		ctx.Set(key, val)
	} else {
		gslog.Panic("middleware: the given context does not carry a call context")
	}
}

// GetFrom a function to fetch the value from the call context
func GetFrom(c context.Context, key any) any {
	return c.Value(key)
}

// Next a function to handle next middleware.
// avoid using the same instance(context) for concurrent scenarios
func Next(ctx context.Context) error {
	currentRouter, ok := GetFrom(ctx, currentElementKey{}).(*element)

	if ok && currentRouter.next() != nil {
		return step(ctx, currentRouter.next())
	}
	return nil
}
