package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc/credentials"
)

// ClientStream is the caller side of one call.
type ClientStream struct {
	conn net.Conn

	recvCh  chan []byte
	recvErr error
	recvMu  sync.Mutex

	trailer   *Trailer
	trailerCh chan struct{}

	wmu      sync.Mutex
	sendDone bool
}

// NewClientStream dials address, performs the credentials handshake and
// opens a call described by hdr.
func NewClientStream(ctx context.Context, address string, creds credentials.TransportCredentials, hdr Header) (*ClientStream, error) {
	if creds == nil {
		return nil, errors.New("transport: nil credentials")
	}
	d := net.Dialer{}
	rawConn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	conn, _, err := creds.ClientHandshake(ctx, address, rawConn)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("transport: credentials handshake: %w", err)
	}

	if err := writeJSONFrame(conn, frameHeader, hdr); err != nil {
		conn.Close()
		return nil, err
	}

	cs := &ClientStream{
		conn:      conn,
		recvCh:    make(chan []byte, 16),
		trailerCh: make(chan struct{}),
	}
	go cs.recvLoop()
	return cs, nil
}

func (c *ClientStream) recvLoop() {
	for {
		typ, payload, err := readFrame(c.conn)
		if err != nil {
			c.finish(nil, err)
			return
		}
		switch typ {
		case frameMessage:
			c.recvCh <- payload
		case frameTrailer:
			var tr Trailer
			if err := json.Unmarshal(payload, &tr); err != nil {
				c.finish(nil, fmt.Errorf("transport: malformed trailer: %w", err))
				return
			}
			c.finish(&tr, nil)
			return
		}
	}
}

func (c *ClientStream) finish(tr *Trailer, err error) {
	c.recvMu.Lock()
	c.trailer = tr
	c.recvErr = err
	c.recvMu.Unlock()
	close(c.trailerCh)
	close(c.recvCh)
	c.conn.Close()
}

// Send pushes one request payload.
func (c *ClientStream) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.sendDone {
		return ErrStreamDone
	}
	return writeFrame(c.conn, frameMessage, b)
}

// CloseSend signals end of the request stream.
func (c *ClientStream) CloseSend() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.sendDone {
		return nil
	}
	c.sendDone = true
	return writeFrame(c.conn, frameHalfClose, nil)
}

// Recv returns the next response payload, io.EOF once the server sent its
// terminal status, or the transport failure that killed the call.
func (c *ClientStream) Recv() ([]byte, error) {
	b, ok := <-c.recvCh
	if !ok {
		c.recvMu.Lock()
		defer c.recvMu.Unlock()
		if c.recvErr != nil {
			return nil, c.recvErr
		}
		return nil, io.EOF
	}
	return b, nil
}

// Trailer blocks until the terminal status arrives (or the call dies) and
// returns it.
func (c *ClientStream) Trailer() (*Trailer, error) {
	<-c.trailerCh
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.recvErr != nil {
		return nil, c.recvErr
	}
	return c.trailer, nil
}

// Cancel aborts the call.
func (c *ClientStream) Cancel() {
	c.wmu.Lock()
	if !c.sendDone {
		c.sendDone = true
		writeFrame(c.conn, frameCancel, nil)
	}
	c.wmu.Unlock()
	c.conn.Close()
	// unblock the receive loop; the channel closes once it observes the
	// dead connection
	go func() {
		for range c.recvCh {
		}
	}()
}
