package middleware

import (
	"context"
)

// CallType tells the terminal chain element which invoker to run.
type CallType int

const (
	UnaryCall CallType = iota
	StreamCall
)

// UnaryInvoker runs a unary handler with the deserialized request.
type UnaryInvoker func(ctx context.Context, req any) (any, error)

// StreamInvoker runs a streaming handler; the stream objects are already
// bound into the closure.
type StreamInvoker func() error

type (
	fullMethodKey     struct{}
	requestKey        struct{}
	responseKey       struct{}
	callTypeKey       struct{}
	unaryInvokerKey   struct{}
	streamInvokerKey  struct{}
	routerIndexKey    struct{}
	currentElementKey struct{}
)

// GetFullMethodFrom a function to return the full method path of the call
func GetFullMethodFrom(ctx context.Context) string {
	return GetFrom(ctx, fullMethodKey{}).(string)
}

// GetRequestFrom a function to return the deserialized request of a unary call
func GetRequestFrom(ctx context.Context) any {
	return GetFrom(ctx, requestKey{})
}

// GetResponseFrom a function to return the handler response of a unary call
func GetResponseFrom(ctx context.Context) any {
	return GetFrom(ctx, responseKey{})
}

// GetCallTypeFrom a function to return the call type, unary | stream
func GetCallTypeFrom(ctx context.Context) CallType {
	return GetFrom(ctx, callTypeKey{}).(CallType)
}

// GetUnaryInvokerFrom a function to return the unary invoker of the call
func GetUnaryInvokerFrom(ctx context.Context) UnaryInvoker {
	return GetFrom(ctx, unaryInvokerKey{}).(UnaryInvoker)
}

// GetStreamInvokerFrom a function to return the stream invoker of the call
func GetStreamInvokerFrom(ctx context.Context) StreamInvoker {
	return GetFrom(ctx, streamInvokerKey{}).(StreamInvoker)
}

// SetFullMethodInto a function to save the full method path into the call context
func SetFullMethodInto(ctx context.Context, fullMethod string) {
	SetInto(ctx, fullMethodKey{}, fullMethod)
}

// SetRequestInto a function to save the deserialized request into the call context
func SetRequestInto(ctx context.Context, req any) {
	SetInto(ctx, requestKey{}, req)
}

// SetCallTypeInto a function to save the call type into the call context
func SetCallTypeInto(ctx context.Context, t CallType) {
	SetInto(ctx, callTypeKey{}, t)
}

// SetUnaryInvokerInto a function to save the unary invoker into the call context
func SetUnaryInvokerInto(ctx context.Context, invoker UnaryInvoker) {
	SetInto(ctx, unaryInvokerKey{}, invoker)
}

// SetStreamInvokerInto a function to save the stream invoker into the call context
func SetStreamInvokerInto(ctx context.Context, invoker StreamInvoker) {
	SetInto(ctx, streamInvokerKey{}, invoker)
}
