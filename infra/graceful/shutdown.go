// Package graceful holds process-wide shutdown hooks. Components that own
// external resources (log writers, registry leases) attach a handler here
// and the server fires them exactly once on its way down.
package graceful

import (
	"sync"
)

type shutdown struct {
	mu          sync.Mutex
	once        sync.Once
	handlers    []func()
	preHandlers []func()
}

var shutDownHandlers = &shutdown{}

// RegisterShutDownHandlers attach handlers executed during ShutDown.
func RegisterShutDownHandlers(f ...func()) {
	shutDownHandlers.mu.Lock()
	shutDownHandlers.handlers = append(shutDownHandlers.handlers, f...)
	shutDownHandlers.mu.Unlock()
}

// RegisterPreShutDownHandlers attach handlers executed before the normal
// handlers, in reverse registration order (last registered runs first).
func RegisterPreShutDownHandlers(f ...func()) {
	shutDownHandlers.mu.Lock()
	shutDownHandlers.preHandlers = append(shutDownHandlers.preHandlers, f...)
	shutDownHandlers.mu.Unlock()
}

// ShutDown runs every registered handler once. Later calls are no-ops.
func ShutDown() {
	shutDownHandlers.once.Do(func() {
		shutDownHandlers.mu.Lock()
		pre := append([]func(){}, shutDownHandlers.preHandlers...)
		normal := append([]func(){}, shutDownHandlers.handlers...)
		shutDownHandlers.mu.Unlock()

		for i := len(pre) - 1; i >= 0; i-- {
			pre[i]()
		}
		for _, f := range normal {
			f()
		}
	})
}
