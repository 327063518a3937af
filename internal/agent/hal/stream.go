package hal

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/autopeer-io/otaagent/internal/agent/core"
)

const defaultStreamBuffer = 16 << 10

var errStreamClosed = errors.New("stream closed")

var _ core.Stream = (*pumpStream)(nil)

// pumpStream reads a body on its own goroutine into a bounded buffer so that
// Available can report buffered bytes without blocking. The pump stops reading
// while the buffer is full.
type pumpStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	limit  int
	err    error
	closed bool
}

func newPumpStream(r io.Reader, limit int) *pumpStream {
	if limit <= 0 {
		limit = defaultStreamBuffer
	}
	s := &pumpStream{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	go s.pump(r)
	return s
}

func (s *pumpStream) pump(r io.Reader) {
	chunk := make([]byte, min(s.limit, 4096))
	for {
		s.mu.Lock()
		for s.buf.Len() >= s.limit && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		space := s.limit - s.buf.Len()
		s.mu.Unlock()

		n, err := r.Read(chunk[:min(space, len(chunk))])

		s.mu.Lock()
		s.buf.Write(chunk[:n])
		if err != nil {
			s.err = err
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// Available returns the buffered byte count. Once the body has ended and the
// buffer is drained it returns the terminal error, io.EOF on a clean end.
func (s *pumpStream) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.buf.Len(); n > 0 {
		return n, nil
	}
	if s.closed {
		return 0, errStreamClosed
	}
	return 0, s.err
}

// Read copies buffered bytes into p. It never blocks and returns 0, nil when
// nothing is buffered yet.
func (s *pumpStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Len() == 0 {
		if s.closed {
			return 0, errStreamClosed
		}
		return 0, s.err
	}
	n, _ := s.buf.Read(p)
	s.cond.Signal()
	return n, nil
}

func (s *pumpStream) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
