package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/autopeer-io/otaagent/internal/agent/core"
)

// recorder keeps the order of side effects across fakes.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(format string, args ...any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.ops = append(r.ops, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// fakeStream serves data through Available/Read.
type fakeStream struct {
	data []byte
	pos  int

	// step caps what a single Available call reports; zero means everything left.
	step int
	// stalls is the number of Available calls that report nothing before data flows.
	stalls int
	// hang makes an exhausted stream report zero bytes forever instead of io.EOF.
	hang bool

	availableCalls int
}

func (s *fakeStream) Available() (int, error) {
	s.availableCalls++
	if s.stalls > 0 {
		s.stalls--
		return 0, nil
	}
	left := len(s.data) - s.pos
	if left == 0 {
		if s.hang {
			return 0, nil
		}
		return 0, io.EOF
	}
	if s.step > 0 && left > s.step {
		return s.step, nil
	}
	return left, nil
}

func (s *fakeStream) Read(p []byte) (int, error) {
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

type fakeResponse struct {
	url     string
	status  int
	headers map[string]string
	length  int64
	stream  *fakeStream
	closed  bool
}

func (r *fakeResponse) StatusCode() int { return r.status }

func (r *fakeResponse) Header(name string) string {
	return r.headers[http.CanonicalHeaderKey(name)]
}

func (r *fakeResponse) ContentLength() int64 { return r.length }
func (r *fakeResponse) Stream() core.Stream  { return r.stream }
func (r *fakeResponse) URL() string          { return r.url }

func (r *fakeResponse) Close() error {
	r.closed = true
	return nil
}

func okResponse(url string, body []byte) *fakeResponse {
	return &fakeResponse{
		url:    url,
		status: http.StatusOK,
		length: int64(len(body)),
		stream: &fakeStream{data: body},
	}
}

func redirectResponse(url string, status int, location string) *fakeResponse {
	headers := map[string]string{}
	if location != "" {
		headers["Location"] = location
	}
	return &fakeResponse{url: url, status: status, headers: headers, length: -1, stream: &fakeStream{}}
}

// fakeTransport answers GETs from a handler and records the requested URLs.
type fakeTransport struct {
	handler func(url string) (*fakeResponse, error)
	calls   []string
	opened  []*fakeResponse
}

func (t *fakeTransport) Get(_ context.Context, url string) (core.Response, error) {
	t.calls = append(t.calls, url)
	resp, err := t.handler(url)
	if err != nil {
		return nil, err
	}
	t.opened = append(t.opened, resp)
	return resp, nil
}

func serve(routes map[string]*fakeResponse) *fakeTransport {
	return &fakeTransport{handler: func(url string) (*fakeResponse, error) {
		resp, ok := routes[url]
		if !ok {
			return &fakeResponse{url: url, status: http.StatusNotFound, length: -1, stream: &fakeStream{}}, nil
		}
		return resp, nil
	}}
}

type fakeSink struct {
	rec *recorder

	beginErr error
	writeErr error
	endErr   error
	// maxWrite caps how many bytes a Write accepts; zero means no cap.
	maxWrite int

	total      int64
	data       []byte
	writes     []int
	beginCalls int
	endCalls   int
	abortCalls int
	finished   bool
}

func (s *fakeSink) Begin(total int64) error {
	s.beginCalls++
	if s.beginErr != nil {
		return s.beginErr
	}
	s.total = total
	s.finished = false
	s.rec.add("begin %d", total)
	return nil
}

func (s *fakeSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if s.maxWrite > 0 && n > s.maxWrite {
		n = s.maxWrite
	}
	s.data = append(s.data, p[:n]...)
	s.writes = append(s.writes, n)
	return n, nil
}

func (s *fakeSink) End() error {
	s.endCalls++
	s.rec.add("end")
	if s.endErr != nil {
		return s.endErr
	}
	if int64(len(s.data)) != s.total {
		return errors.New("incomplete image")
	}
	s.finished = true
	return nil
}

func (s *fakeSink) IsFinished() bool { return s.finished }

func (s *fakeSink) Abort() error {
	s.abortCalls++
	s.rec.add("abort")
	return nil
}

type fakeStore struct {
	rec *recorder

	strings map[string]string
	bools   map[string]bool
	putErr  map[string]error
	opens   int
	puts    int
}

func newFakeStore(rec *recorder) *fakeStore {
	return &fakeStore{
		rec:     rec,
		strings: map[string]string{},
		bools:   map[string]bool{},
		putErr:  map[string]error{},
	}
}

func (s *fakeStore) Open(namespace string, readOnly bool) (core.Namespace, error) {
	s.opens++
	return &fakeNamespace{store: s, readOnly: readOnly}, nil
}

type fakeNamespace struct {
	store    *fakeStore
	readOnly bool
}

func (n *fakeNamespace) String(key, def string) string {
	if v, ok := n.store.strings[key]; ok {
		return v
	}
	return def
}

func (n *fakeNamespace) Bool(key string, def bool) bool {
	if v, ok := n.store.bools[key]; ok {
		return v
	}
	return def
}

func (n *fakeNamespace) PutString(key, value string) error {
	if n.readOnly {
		return errors.New("read-only")
	}
	if err := n.store.putErr[key]; err != nil {
		return err
	}
	n.store.puts++
	n.store.strings[key] = value
	n.store.rec.add("put %s=%s", key, value)
	return nil
}

func (n *fakeNamespace) PutBool(key string, value bool) error {
	if n.readOnly {
		return errors.New("read-only")
	}
	if err := n.store.putErr[key]; err != nil {
		return err
	}
	n.store.puts++
	n.store.bools[key] = value
	n.store.rec.add("put %s=%t", key, value)
	return nil
}

func (n *fakeNamespace) Close() error {
	n.store.rec.add("close")
	return nil
}

type fakeRestarter struct {
	rec   *recorder
	calls int
	err   error
}

func (r *fakeRestarter) Restart(context.Context) error {
	r.calls++
	r.rec.add("restart")
	return r.err
}

type fakeRollback struct {
	possible     bool
	validErr     error
	validCalls   int
	checkCalls   int
	invalidCalls int
}

func (r *fakeRollback) MarkValidCancelRollback() error {
	r.validCalls++
	return r.validErr
}

func (r *fakeRollback) CheckRollbackPossible() bool {
	r.checkCalls++
	return r.possible
}

func (r *fakeRollback) MarkInvalidRollbackAndReboot() error {
	r.invalidCalls++
	return nil
}

type fakeLocator map[string]string

func (l fakeLocator) Locate(_ context.Context, raw string) (string, error) {
	if v, ok := l[raw]; ok {
		return v, nil
	}
	return raw, nil
}

func firmware(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
