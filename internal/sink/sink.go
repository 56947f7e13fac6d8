// Package sink delivers finished artifacts: raw frames over a TCP stream, or
// image files on disk.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Prefix is prepended to the source file name of every written artifact.
const Prefix = "out_"

// ErrStreamClosed is returned by writes after the stream has been closed or
// broken by an earlier failed write.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a connected TCP stream receiving raw frames. It is owned by a
// single writer.
type Stream struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Stream, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Stream{addr: addr, conn: conn}, nil
}

func (s *Stream) Addr() string { return s.addr }

// Write sends p in full. A failed write closes the connection; later writes
// report ErrStreamClosed.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	n, err := s.conn.Write(p)
	if err != nil {
		s.closed = true
		_ = s.conn.Close()
		return n, fmt.Errorf("send to %s: %w", s.addr, err)
	}
	return n, nil
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// OutputPath derives the artifact path for source inside dir. When ext is not
// empty it replaces the source extension.
func OutputPath(dir, source, ext string) string {
	name := filepath.Base(source)
	if ext != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	return filepath.Join(dir, Prefix+name)
}

// WriteFile writes data to path through a temporary file and a rename, so a
// crash never leaves a partial artifact under the final name.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".segflow-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
