// Package store owns the process-wide configuration document: the rule trees
// of every rule domain plus a free-form settings surface addressed by dotted
// keys. Every mutation is written through to a Backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobridge/ghrelay/rules"
)

// EventRules is the rule domain deciding which events reach which channel.
const EventRules = "eventRules"

// Document is the persisted form of the configuration: top-level key to raw
// JSON value.
type Document map[string]json.RawMessage

// Backend loads and saves the whole document.
type Backend interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// ErrNotFound should be returned by Backend implementations when no document
// has been saved yet.
var ErrNotFound = errors.New("configuration not found")

// Rule is one explicit rule as reported by Rules.
type Rule struct {
	Path    rules.Path
	Enabled bool
}

// Reporter receives problems the store recovers from by itself.
type Reporter func(ctx context.Context, err error)

// Store is safe for concurrent use. Writers are serialized and readers never
// observe a partially applied mutation.
type Store struct {
	backend Backend
	report  Reporter

	mu       sync.RWMutex
	domains  map[string]*rules.Tree
	settings map[string]any
}

// Option configures a Store.
type Option func(*Store)

// WithDomains replaces the set of rule domains (default: EventRules).
func WithDomains(names ...string) Option {
	return func(s *Store) {
		s.domains = make(map[string]*rules.Tree, len(names))
		for _, n := range names {
			s.domains[n] = rules.New()
		}
	}
}

// WithReporter sets where load and save failures are reported.
func WithReporter(r Reporter) Option {
	return func(s *Store) {
		s.report = r
	}
}

// New creates a store with empty defaults. Call Load to read the backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:  b,
		report:   func(context.Context, error) {},
		domains:  map[string]*rules.Tree{EventRules: rules.New()},
		settings: map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory document with the backend's. A missing or
// unreadable document is reported and the current defaults are kept.
func (s *Store) Load(ctx context.Context) {
	doc, err := s.backend.Load(ctx)
	if err != nil {
		s.report(ctx, &PersistenceError{Op: "load", Err: err})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, raw := range doc {
		if tree, ok := s.domains[key]; ok {
			loaded := rules.New()
			if err := json.Unmarshal(raw, loaded); err != nil {
				s.report(ctx, &PersistenceError{Op: "load", Key: key, Err: err})
				continue
			}
			*tree = *loaded
			continue
		}

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			s.report(ctx, &PersistenceError{Op: "load", Key: key, Err: err})
			continue
		}
		s.settings[key] = v
	}
}

// Save writes the whole document through the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.save(ctx)
}

func (s *Store) save(ctx context.Context) error {
	doc, err := s.document()
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if err := s.backend.Save(ctx, doc); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// persist is called with the write lock held after every mutation. A failure
// is reported but the in-memory change stays.
func (s *Store) persist(ctx context.Context) {
	if err := s.save(ctx); err != nil {
		s.report(ctx, err)
	}
}

func (s *Store) document() (Document, error) {
	doc := make(Document, len(s.domains)+len(s.settings))
	for name, tree := range s.domains {
		raw, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", name, err)
		}
		doc[name] = raw
	}
	for key, v := range s.settings {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		doc[key] = raw
	}
	return doc, nil
}

// Lookup reports whether path is enabled in domain. Unknown domains answer
// false.
func (s *Store) Lookup(domain string, path rules.Path) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.domains[domain]
	if !ok {
		return false
	}
	return tree.Lookup(path)
}

// Rules lists the explicit rules under prefix in domain, relative to prefix.
func (s *Store) Rules(domain string, prefix rules.Path) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.domains[domain]
	if !ok {
		return nil
	}
	var out []Rule
	for p, v := range tree.All(prefix) {
		out = append(out, Rule{Path: p, Enabled: v})
	}
	return out
}

// SetRule stores value (nil: inherit) at path in domain and persists.
func (s *Store) SetRule(ctx context.Context, domain string, path rules.Path, value *bool) error {
	if len(path) == 0 {
		return &InvalidPathError{Key: domain, Reason: "the root of a rule domain cannot be set"}
	}
	for _, seg := range path {
		if seg == "" {
			return &InvalidPathError{Key: domain + "." + strings.Join(path, "."), Reason: "empty path segment"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tree, ok := s.domains[domain]
	if !ok {
		return &InvalidPathError{Key: domain, Reason: "unknown rule domain"}
	}
	tree.Set(path, value)
	s.persist(ctx)
	return nil
}

// Get returns the JSON encoding of the value at a dotted key. Rule domains
// are returned in their persisted form.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	segs, err := splitKey(key)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var cur any
	if tree, ok := s.domains[segs[0]]; ok {
		raw, err := json.Marshal(tree)
		if err != nil {
			return nil, false
		}
		if err := json.Unmarshal(raw, &cur); err != nil {
			return nil, false
		}
	} else {
		v, ok := s.settings[segs[0]]
		if !ok {
			return nil, false
		}
		cur = v
	}

	for _, seg := range segs[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}

	raw, err := json.Marshal(cur)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Set stores value at a dotted key, creating intermediate objects and
// replacing non-object values on the way. Rule domains cannot be written
// through Set.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	segs, err := s.writableKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(segs) == 1 {
		s.settings[segs[0]] = value
		s.persist(ctx)
		return nil
	}

	m, ok := s.settings[segs[0]].(map[string]any)
	if !ok {
		m = map[string]any{}
		s.settings[segs[0]] = m
	}
	for _, seg := range segs[1 : len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
	s.persist(ctx)
	return nil
}

// Delete removes a dotted key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	segs, err := s.writableKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(segs) == 1 {
		if _, ok := s.settings[segs[0]]; !ok {
			return nil
		}
		delete(s.settings, segs[0])
		s.persist(ctx)
		return nil
	}

	m, ok := s.settings[segs[0]].(map[string]any)
	for _, seg := range segs[1 : len(segs)-1] {
		if !ok {
			return nil
		}
		m, ok = m[seg].(map[string]any)
	}
	if !ok {
		return nil
	}
	if _, found := m[segs[len(segs)-1]]; !found {
		return nil
	}
	delete(m, segs[len(segs)-1])
	s.persist(ctx)
	return nil
}

// Keys lists the top-level keys of the document, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.domains)+len(s.settings))
	for k := range s.domains {
		keys = append(keys, k)
	}
	for k := range s.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) writableKey(key string) ([]string, error) {
	segs, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	_, isDomain := s.domains[segs[0]]
	s.mu.RUnlock()
	if isDomain {
		return nil, &InvalidPathError{Key: key, Reason: "rule domains can only be changed with the events command"}
	}
	return segs, nil
}

func splitKey(key string) ([]string, error) {
	if key == "" {
		return nil, &InvalidPathError{Key: key, Reason: "cannot replace the whole configuration"}
	}
	segs := strings.Split(key, ".")
	for _, seg := range segs {
		if seg == "" {
			return nil, &InvalidPathError{Key: key, Reason: "empty key segment"}
		}
	}
	return segs, nil
}
