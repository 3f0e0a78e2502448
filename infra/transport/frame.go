// Package transport carries RPC calls over a byte stream. The wire format
// is deliberately small: every frame is a one byte type, a big-endian
// uint32 payload length and the payload. One connection carries exactly
// one call; the header frame opens it and a trailer frame terminates it.
//
// The server core only depends on the Listen/Accept/ServerStream surface,
// so a different framing (or a multiplexed transport) can replace this
// package without touching the dispatcher.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const (
	frameHeader    byte = 0x01 // payload: json Header, remote -> server, opens the call
	frameMessage   byte = 0x02 // payload: one serialized message, either direction
	frameHalfClose byte = 0x03 // no payload, remote -> server, end of request stream
	frameTrailer   byte = 0x04 // payload: json Trailer, server -> remote, terminal status
	frameCancel    byte = 0x05 // no payload, remote -> server, abort the call
)

// MaxFrameSize bounds a single message payload.
const MaxFrameSize = 4 << 20

// Header opens a call and declares the shape the remote intends to use.
type Header struct {
	Method       string `json:"method"`
	ClientStream bool   `json:"client_stream"`
	ServerStream bool   `json:"server_stream"`
}

// Trailer is the terminal status of a call. Code values follow
// google.golang.org/grpc/codes.
type Trailer struct {
	Code    uint32 `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	var hdr [5]byte
	hdr[0] = typ
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
	}
	if size == 0 {
		return hdr[0], nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

func writeJSONFrame(w io.Writer, typ byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrame(w, typ, payload)
}
