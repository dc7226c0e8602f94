package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the current PolicyDoc behind a read-acquire fence so the
// policy engine can hot-reload a whole new document without the proxy
// pausing in-flight decisions. Decide reads a snapshot via Current().
type Store struct {
	mu  sync.RWMutex
	doc *Doc
}

// Load reads and parses a YAML policy document from path.
func Load(path string) (*Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %q: %w", path, err)
	}
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse %q: %w", path, err)
	}
	return &doc, nil
}

// NewStore loads path and wraps it in a Store.
func NewStore(path string) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{doc: doc}, nil
}

// NewStoreFromDoc wraps an already-parsed document, bypassing disk. Useful
// for embedding a built-in default policy or for tests that construct a
// Doc literal.
func NewStoreFromDoc(doc *Doc) *Store {
	return &Store{doc: doc}
}

// Current returns the active document snapshot.
func (s *Store) Current() *Doc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Reload re-reads the file at path and swaps the active document. Readers
// mid-Decide against the old snapshot are unaffected.
func (s *Store) Reload(path string) error {
	doc, err := Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}
