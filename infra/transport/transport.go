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

var (
	// ErrStreamDone is returned by writes after the terminal status went out.
	ErrStreamDone = errors.New("transport: stream already terminated")
)

// Listener is a bound TCP address ready to accept calls.
type Listener struct {
	lis  net.Listener
	addr *net.TCPAddr
}

// Listen binds address and resolves the effective TCP address, so ":0"
// yields the kernel-assigned port.
func Listen(address string) (*Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveTCPAddr(l.Addr().Network(), l.Addr().String())
	if err != nil {
		l.Close()
		return nil, err
	}
	return &Listener{lis: l, addr: addr}, nil
}

func (l *Listener) Port() int {
	return l.addr.Port
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

// NetListener exposes the raw listener so the caller can mux it.
func (l *Listener) NetListener() net.Listener {
	return l.lis
}

func (l *Listener) Close() error {
	return l.lis.Close()
}

// ServerStream is one inbound call. Recv returns request payloads until the
// remote half-closes (io.EOF) or the call dies; Send pushes response
// payloads; WriteStatus terminates the call exactly once.
type ServerStream struct {
	conn net.Conn
	hdr  Header

	ctx    context.Context
	cancel context.CancelFunc

	recvCh  chan []byte
	recvErr error
	recvMu  sync.Mutex

	wmu        sync.Mutex
	statusSent bool
}

// Accept performs the credentials handshake on a raw connection and reads
// the call header. It blocks until the remote opens the call.
func Accept(ctx context.Context, rawConn net.Conn, creds credentials.TransportCredentials) (*ServerStream, error) {
	conn, _, err := creds.ServerHandshake(rawConn)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("transport: credentials handshake: %w", err)
	}

	typ, payload, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if typ != frameHeader {
		conn.Close()
		return nil, fmt.Errorf("transport: expected header frame, got 0x%02x", typ)
	}
	var hdr Header
	if err := json.Unmarshal(payload, &hdr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: malformed header: %w", err)
	}
	if hdr.Method == "" {
		conn.Close()
		return nil, errors.New("transport: header without method")
	}

	sctx, cancel := context.WithCancel(ctx)
	ss := &ServerStream{
		conn:   conn,
		hdr:    hdr,
		ctx:    sctx,
		cancel: cancel,
		recvCh: make(chan []byte, 16),
	}
	go ss.recvLoop()
	return ss, nil
}

func (s *ServerStream) Method() string {
	return s.hdr.Method
}

// Shape reports the streaming flags the remote declared in its header.
func (s *ServerStream) Shape() (clientStream, serverStream bool) {
	return s.hdr.ClientStream, s.hdr.ServerStream
}

// Context is cancelled when the remote cancels, the connection dies, or the
// stream is forcefully closed.
func (s *ServerStream) Context() context.Context {
	return s.ctx
}

func (s *ServerStream) recvLoop() {
	halfClosed := false
	for {
		typ, payload, err := readFrame(s.conn)
		if err != nil {
			if !halfClosed {
				s.setRecvErr(err)
				close(s.recvCh)
			}
			// remote is gone; a read failure after half-close is the normal
			// end of a finished call, anything earlier aborts it
			s.cancel()
			s.conn.Close()
			return
		}
		switch typ {
		case frameMessage:
			if halfClosed {
				continue
			}
			select {
			case s.recvCh <- payload:
			case <-s.ctx.Done():
				if !halfClosed {
					s.setRecvErr(s.ctx.Err())
					close(s.recvCh)
				}
				s.conn.Close()
				return
			}
		case frameHalfClose:
			if !halfClosed {
				halfClosed = true
				close(s.recvCh)
			}
		case frameCancel:
			if !halfClosed {
				s.setRecvErr(context.Canceled)
				close(s.recvCh)
			}
			s.cancel()
			s.conn.Close()
			return
		}
	}
}

func (s *ServerStream) setRecvErr(err error) {
	s.recvMu.Lock()
	if s.recvErr == nil {
		s.recvErr = err
	}
	s.recvMu.Unlock()
}

func (s *ServerStream) recvFailure() error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return s.recvErr
}

// Recv returns the next request payload, io.EOF after the remote
// half-closed, or the failure that tore the call down.
func (s *ServerStream) Recv() ([]byte, error) {
	b, ok := <-s.recvCh
	if !ok {
		if err := s.recvFailure(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return b, nil
}

// Send pushes one response payload.
func (s *ServerStream) Send(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.statusSent {
		return ErrStreamDone
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return writeFrame(s.conn, frameMessage, b)
}

// WriteStatus sends the terminal trailer and half-closes the write side.
// The second and later calls fail with ErrStreamDone.
func (s *ServerStream) WriteStatus(code uint32, message string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.statusSent {
		return ErrStreamDone
	}
	s.statusSent = true

	err := writeJSONFrame(s.conn, frameTrailer, Trailer{Code: code, Message: message})
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	return err
}

// Close aborts the stream without a trailer. Used by forced shutdown.
func (s *ServerStream) Close() error {
	s.cancel()
	return s.conn.Close()
}
