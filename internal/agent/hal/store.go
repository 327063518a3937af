package hal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/otaagent/internal/agent/core"
)

var (
	errReadOnly        = errors.New("namespace opened read-only")
	errNamespaceClosed = errors.New("namespace closed")

	namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// FileStore keeps each namespace as a YAML document under dir.
// Every put is on disk before it returns.
type FileStore struct {
	dir string

	// mu serializes writers across handles of the same store.
	mu sync.Mutex
}

var _ core.Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// entry is one persisted value. Exactly one field is set.
type entry struct {
	String *string `yaml:"string,omitempty"`
	Bool   *bool   `yaml:"bool,omitempty"`
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, namespace+".yaml")
}

func (s *FileStore) Open(namespace string, readOnly bool) (core.Namespace, error) {
	if !namespacePattern.MatchString(namespace) {
		return nil, fmt.Errorf("invalid namespace %q", namespace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(namespace)
	if err != nil {
		return nil, err
	}
	return &fileNamespace{store: s, name: namespace, readOnly: readOnly, values: values}, nil
}

func (s *FileStore) load(namespace string) (map[string]entry, error) {
	values := map[string]entry{}

	data, err := os.ReadFile(s.path(namespace))
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode namespace %q: %w", namespace, err)
	}
	if values == nil {
		values = map[string]entry{}
	}
	return values, nil
}

type fileNamespace struct {
	store    *FileStore
	name     string
	readOnly bool
	closed   bool
	values   map[string]entry
}

func (n *fileNamespace) String(key, def string) string {
	if e, ok := n.values[key]; ok && e.String != nil {
		return *e.String
	}
	return def
}

func (n *fileNamespace) Bool(key string, def bool) bool {
	if e, ok := n.values[key]; ok && e.Bool != nil {
		return *e.Bool
	}
	return def
}

func (n *fileNamespace) PutString(key, value string) error {
	return n.put(key, entry{String: &value})
}

func (n *fileNamespace) PutBool(key string, value bool) error {
	return n.put(key, entry{Bool: &value})
}

// put merges the value into the namespace file as it is on disk now, so
// concurrent handles do not lose each other's keys.
func (n *fileNamespace) put(key string, e entry) error {
	switch {
	case n.closed:
		return errNamespaceClosed
	case n.readOnly:
		return errReadOnly
	case key == "":
		return errors.New("empty key")
	}

	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	values, err := n.store.load(n.name)
	if err != nil {
		return err
	}
	values[key] = e

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode namespace %q: %w", n.name, err)
	}
	if err := writeFileAtomic(n.store.path(n.name), data, 0o600); err != nil {
		return fmt.Errorf("persist %s/%s: %w", n.name, key, err)
	}

	n.values = values
	return nil
}

func (n *fileNamespace) Close() error {
	n.closed = true
	return nil
}
