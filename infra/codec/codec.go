// Package codec provides the message codecs used to build method
// serialize/deserialize pairs. A MethodDesc only carries plain functions,
// so any codec here (or a hand-written pair) can back a method.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Serializer bind a codec into a method serialize function.
func Serializer(c Codec) func(v interface{}) ([]byte, error) {
	return c.Marshal
}

// Deserializer bind a codec and a message factory into a method
// deserialize function. The factory supplies a fresh value per message.
func Deserializer(c Codec, factory func() interface{}) func(data []byte) (interface{}, error) {
	return func(data []byte) (interface{}, error) {
		v := factory()
		if err := c.Unmarshal(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

type JsonCodec struct {
	name string
	protojson.MarshalOptions
	protojson.UnmarshalOptions
}

func NewJsonCodec() *JsonCodec {
	return &JsonCodec{
		name:             "json",
		MarshalOptions:   protojson.MarshalOptions{},
		UnmarshalOptions: protojson.UnmarshalOptions{},
	}
}

func (j JsonCodec) Name() string {
	return j.name
}

func (j JsonCodec) Marshal(v interface{}) (out []byte, err error) {
	// allow customized first
	if customized, ok := v.(interface {
		MarshalJSON() ([]byte, error)
	}); ok {
		return customized.MarshalJSON()
	}

	if pm, ok := v.(proto.Message); ok {
		b, err := j.MarshalOptions.Marshal(pm)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	bts, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return bts, nil
}

func (j JsonCodec) Unmarshal(data []byte, v interface{}) (err error) {
	// allow customized first
	if customized, ok := v.(interface {
		UnmarshalJSON([]byte) error
	}); ok {
		return customized.UnmarshalJSON(data)
	}

	if pm, ok := v.(proto.Message); ok {
		if err := j.UnmarshalOptions.Unmarshal(data, pm); err != nil {
			return err
		}
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return nil
}

type ProtoCodec struct{}

func (ProtoCodec) Name() string {
	return "proto"
}

func (ProtoCodec) Marshal(v interface{}) ([]byte, error) {
	pm, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: %T does not implement proto.Message", v)
	}
	return proto.Marshal(pm)
}

func (ProtoCodec) Unmarshal(data []byte, v interface{}) error {
	pm, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, pm)
}
