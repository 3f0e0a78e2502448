// Package echo holds the shared service descriptor the example service and
// client both compile against.
package echo

import (
	"github.com/NirvanaNimbusa/grpc-server-go/infra"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/codec"
)

const ServiceName = "example.Echo"

type Message struct {
	Value  string `json:"value"`
	Value2 int    `json:"value2"`
}

var jsonCodec = codec.NewJsonCodec()

// UnaryEcho mirrors a single message back.
var UnaryEcho = infra.MethodDesc{
	MethodName:          "UnaryEcho",
	RequestSerialize:    codec.Serializer(jsonCodec),
	RequestDeserialize:  codec.Deserializer(jsonCodec, func() any { return new(Message) }),
	ResponseSerialize:   codec.Serializer(jsonCodec),
	ResponseDeserialize: codec.Deserializer(jsonCodec, func() any { return new(Message) }),
}

// ServerStreamingEcho mirrors one message back several times.
var ServerStreamingEcho = infra.MethodDesc{
	MethodName:          "ServerStreamingEcho",
	ServerStream:        true,
	RequestSerialize:    codec.Serializer(jsonCodec),
	RequestDeserialize:  codec.Deserializer(jsonCodec, func() any { return new(Message) }),
	ResponseSerialize:   codec.Serializer(jsonCodec),
	ResponseDeserialize: codec.Deserializer(jsonCodec, func() any { return new(Message) }),
}

// Desc groups the echo methods into one registrable service.
var Desc = infra.ServiceDesc{
	ServiceName: ServiceName,
	Methods:     []infra.MethodDesc{UnaryEcho, ServerStreamingEcho},
}
