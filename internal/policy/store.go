package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store holds the active compiled policy snapshot and swaps it atomically
// on replacement. Reads never observe a partially-applied set.
type Store struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore creates a store with an empty snapshot (no roles, no rules).
// An empty set denies every command at the RBAC step, since no role
// holds any grant. Load a policy set before serving.
func NewStore() *Store {
	return &Store{snap: &Snapshot{
		Version: 0,
		Roles:   map[string][]string{},
	}}
}

// Active returns the current snapshot. The returned value is immutable;
// callers must not modify it.
func (s *Store) Active() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace validates, compiles, and atomically installs a new policy set.
// On validation failure the active snapshot is left untouched and an
// *InvalidSetError is returned.
func (s *Store) Replace(doc *Document) (*Snapshot, error) {
	return s.ReplaceChecked(doc, nil)
}

// ReplaceChecked is Replace with a commit gate. The candidate snapshot
// is built, gate runs with it, and the swap happens only when gate
// returns nil. A gate failure leaves the active snapshot untouched.
func (s *Store) ReplaceChecked(doc *Document, gate func(*Snapshot) error) (*Snapshot, error) {
	rules, roles, err := Compile(doc)
	if err != nil {
		return nil, err
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal policy document: %w", err)
	}
	sum := sha256.Sum256(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{
		Version:  s.snap.Version + 1,
		Hash:     hex.EncodeToString(sum[:]),
		Roles:    roles,
		Rules:    rules,
		LoadedAt: time.Now().UTC(),
	}
	if gate != nil {
		if err := gate(snap); err != nil {
			return nil, err
		}
	}
	s.snap = snap
	return snap, nil
}

// Parse decodes a YAML policy document. Unknown fields are rejected so a
// typo in a guardrail never silently disables it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	return &doc, nil
}

// LoadFile reads, parses, validates, and installs a policy set from the
// given YAML file.
func (s *Store) LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Replace(doc)
}
