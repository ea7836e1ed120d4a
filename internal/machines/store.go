// SPDX-License-Identifier: MIT

// Package machines owns the machines.yaml file. It provides record-level
// create, merge-update and delete with strict preservation guarantees: the
// file stays human-editable and hand annotations survive programmatic edits.
package machines

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/backhaul/backhaul/internal/log"
)

// Store is the process-wide owner of the machines file and its in-memory
// document. All mutations are serialized and run as a single
// load → mutate → persist unit; a failure at any point leaves both the file
// and the cached document in their prior state.
type Store struct {
	path string

	// persistFn allows tests to stub the file write; defaults to persistFile.
	persistFn func(*Document) error

	mu  sync.RWMutex
	doc *Document
}

// New returns a store for the given path without touching the file.
// The document is loaded lazily on first access.
func New(path string) *Store {
	return &Store{path: path}
}

// Open returns a store and eagerly loads the file. When autoCreate is set a
// missing file is initialised with an empty machines list; otherwise a
// missing file is an error (fail-fast by default).
func Open(path string, autoCreate bool) (*Store, error) {
	s := New(path)
	if autoCreate {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger := log.WithComponent("machines")
			logger.Warn().
				Str(log.FieldPath, path).
				Msg("machines file not found, creating empty config")
			if err := s.persist(NewDocument()); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the backing file, replacing the cached document.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Invalidate drops the cached document so the next operation re-reads the
// file. Called by the watcher when the file changes on disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.doc = nil
	s.mu.Unlock()
}

// List returns all machine records in file order.
func (s *Store) List() ([]Record, error) {
	doc, unlock, err := s.document()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return doc.Records()
}

// Get returns the machine with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	doc, unlock, err := s.document()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return doc.Get(id)
}

// Create appends a new machine record and persists the document before
// returning. Fails with ErrValidation when the id is missing or empty and
// with ErrConflict when the id is already taken.
func (s *Store) Create(rec Record) (Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	if node, _ := doc.find(id); node != nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}

	next := doc.Clone()
	if err := next.Append(rec); err != nil {
		return nil, err
	}
	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.doc = next

	logger := log.WithComponent("machines")
	logger.Info().
		Str(log.FieldMachineID, id).
		Str(log.FieldEvent, "machine.created").
		Msg("added machine")
	return next.Get(id)
}

// Update merges partial into the machine with the given id and persists the
// document before returning. Only fields present in partial are overwritten;
// everything else, including the id and all comments, is left exactly as it
// was. Returns the fully merged record.
func (s *Store) Update(id string, partial Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.currentLocked()
	if err != nil {
		return nil, err
	}

	next := doc.Clone()
	merged, err := next.Merge(id, partial)
	if err != nil {
		return nil, err
	}
	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.doc = next

	logger := log.WithComponent("machines")
	logger.Info().
		Str(log.FieldMachineID, id).
		Str(log.FieldEvent, "machine.updated").
		Msg("updated machine")
	return merged, nil
}

// Delete removes exactly the machine with the given id and persists the
// document before returning. Every other node in the file, comments
// included, is reproduced unchanged.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.currentLocked()
	if err != nil {
		return err
	}

	next := doc.Clone()
	if err := next.Remove(id); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next

	logger := log.WithComponent("machines")
	logger.Info().
		Str(log.FieldMachineID, id).
		Str(log.FieldEvent, "machine.deleted").
		Msg("deleted machine")
	return nil
}

// document returns the cached document under a read lock, loading it first
// when the cache is empty. The returned unlock must be called once the
// caller is done reading.
func (s *Store) document() (*Document, func(), error) {
	s.mu.RLock()
	if s.doc != nil {
		return s.doc, s.mu.RUnlock, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	if s.doc == nil {
		doc, err := s.read()
		if err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
		s.doc = doc
	}
	doc := s.doc
	s.mu.Unlock()

	s.mu.RLock()
	return doc, s.mu.RUnlock, nil
}

// currentLocked returns the cached document, loading it when needed.
// Callers must hold the write lock.
func (s *Store) currentLocked() (*Document, error) {
	if s.doc != nil {
		return s.doc, nil
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return doc, nil
}

func (s *Store) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read machines file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	return doc, nil
}

func (s *Store) persist(doc *Document) error {
	if s.persistFn != nil {
		return s.persistFn(doc)
	}
	return s.persistFile(doc)
}

// persistFile writes the document to the backing file via a pending temp
// file and an atomic, durable rename. A crash mid-write can never leave a
// truncated or half-written machines file behind.
func (s *Store) persistFile(doc *Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending machines file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("machines")
			logger.Debug().Err(err).Msg("cleanup pending machines file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write machines data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace machines file: %w", err)
	}
	return nil
}
