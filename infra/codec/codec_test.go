package codec

import (
	"testing"
)

type note struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

type upperString string

func (u upperString) MarshalJSON() ([]byte, error) {
	return []byte(`"UPPER"`), nil
}

func Test_JsonCodecPlainStruct(t *testing.T) {
	c := NewJsonCodec()
	if c.Name() != "json" {
		t.Fatalf("name = %q", c.Name())
	}

	b, err := c.Marshal(&note{Title: "hi", Count: 2})
	if err != nil {
		t.Fatal(err)
	}

	var got note
	if err := c.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Title != "hi" || got.Count != 2 {
		t.Fatalf("got = %+v", got)
	}
}

func Test_JsonCodecCustomMarshaler(t *testing.T) {
	c := NewJsonCodec()
	b, err := c.Marshal(upperString("lower"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"UPPER"` {
		t.Fatalf("marshal = %s", b)
	}
}

func Test_ProtoCodecRejectsNonProto(t *testing.T) {
	var c ProtoCodec
	if _, err := c.Marshal(&note{}); err == nil {
		t.Fatal("expected a type error")
	}
	if err := c.Unmarshal(nil, &note{}); err == nil {
		t.Fatal("expected a type error")
	}
}

func Test_SerializerDeserializerPair(t *testing.T) {
	c := NewJsonCodec()
	ser := Serializer(c)
	deser := Deserializer(c, func() interface{} { return new(note) })

	b, err := ser(&note{Title: "pair"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := deser(b)
	if err != nil {
		t.Fatal(err)
	}
	if v.(*note).Title != "pair" {
		t.Fatalf("round trip = %+v", v)
	}
}
