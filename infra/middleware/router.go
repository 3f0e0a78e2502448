package middleware

import (
	"container/list"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
)

// Router walks a middleware chain and ends at the call's handler.
type Router interface {
	Deep(ctx context.Context) error
}

// RouterGroup assembles chains. Use appends middleware, Group forks an
// independent child carrying the parent's chain, Handler seals the current
// chain under one or more method paths.
type RouterGroup interface {
	Use(m ...Middleware)
	Group() RouterGroup
	Handler(paths ...string)
}

// link is one chain entry. The index lets a middleware that already ran the
// rest of the chain (through Next) stop the outer walk from re-running it.
type link struct {
	index   int
	handler Middleware
}

type element struct {
	ele *list.Element
}

func (e *element) next() *element {
	n := e.ele.Next()
	if n == nil {
		return nil
	}
	return &element{ele: n}
}

// chainRouter is a sealed chain bound to a method path.
type chainRouter struct {
	list list.List
}

func (r *chainRouter) Deep(ctx context.Context) error {
	if r.list.Front() != nil {
		return step(ctx, &element{ele: r.list.Front()})
	}
	return invoke(ctx)
}

func step(ctx context.Context, ele *element) error {
	if ele == nil {
		return invoke(ctx)
	}
	lk := ele.ele.Value.(*link)
	SetInto(ctx, routerIndexKey{}, lk.index)
	SetInto(ctx, currentElementKey{}, ele)
	if err := lk.handler(ctx); err != nil {
		return err
	}

	// the middleware already walked the rest through Next
	if GetFrom(ctx, routerIndexKey{}).(int) != lk.index {
		return nil
	}
	return step(ctx, ele.next())
}

// invoke runs the call's handler, the terminal element of every chain.
func invoke(ctx context.Context) error {
	switch GetCallTypeFrom(ctx) {
	case UnaryCall:
		resp, err := GetUnaryInvokerFrom(ctx)(ctx, GetRequestFrom(ctx))
		if err != nil {
			return err
		}
		SetInto(ctx, responseKey{}, resp)
		return nil
	case StreamCall:
		return GetStreamInvokerFrom(ctx)()
	}
	return nil
}

type routerGroup struct {
	chain       *list.List
	index       int
	locker      sync.Mutex
	ExistRouter func(key string) bool
	AddRouter   func(key string, router Router)
}

func NewRouterGroup(existRouter func(key string) bool, addRouter func(key string, router Router)) RouterGroup {
	return &routerGroup{
		chain:       list.New(),
		ExistRouter: existRouter,
		AddRouter:   addRouter,
	}
}

func (r *routerGroup) Use(m ...Middleware) {
	r.locker.Lock()
	for _, v := range m {
		r.chain.PushBack(&link{
			index:   r.index,
			handler: v,
		})
		r.index++
	}
	r.locker.Unlock()
}

func (r *routerGroup) Group() RouterGroup {
	r.locker.Lock()
	defer r.locker.Unlock()
	n := &routerGroup{
		chain:       list.New(),
		index:       r.index,
		ExistRouter: r.ExistRouter,
		AddRouter:   r.AddRouter,
	}
	n.chain.PushBackList(r.chain)
	return n
}

func (r *routerGroup) Handler(paths ...string) {
	r.locker.Lock()
	defer r.locker.Unlock()

	for _, path := range paths {
		if path == "" {
			gslog.Panic("router: empty handler path")
		}
		if exist := r.ExistRouter(path); exist {
			gslog.Panic("router: duplicate handler path", zap.String("path", path))
		}

		router := &chainRouter{}
		router.list.PushBackList(r.chain)
		r.AddRouter(path, router)
	}
}
