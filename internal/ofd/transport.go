package ofd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single reply.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("ofd: frame exceeds limit")

type Transport interface {
	SendAndReceive(ctx context.Context, endpoint string, payload []byte) ([]byte, error)
}

// TCPTransport opens one connection per exchange and frames each message
// with a 4-byte big-endian length prefix.
type TCPTransport struct {
	Dialer net.Dialer
}

func NewTCPTransport(dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{Dialer: net.Dialer{Timeout: dialTimeout}}
}

func (t *TCPTransport) SendAndReceive(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	conn, err := t.Dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(conn, payload); err != nil {
		return nil, fmt.Errorf("ofd: write: %w", err)
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("ofd: read: %w", err)
	}
	return resp, nil
}

func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame returns io.EOF when the peer closed before sending a header.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
