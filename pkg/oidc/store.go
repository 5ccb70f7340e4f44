package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Store is the on-disk token cache: a JSON mapping from entry uuid to token
// entry, one file per application identifier.
//
// Every mutation reloads the file under the advisory lock before rewriting
// it, so concurrent processes never lose each other's writes.
type Store struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewStore opens (or will create on first write) the token cache for the
// given application identifier. An empty dir selects the user cache
// directory, falling back to the system temp directory.
func NewStore(dir, app string) (*Store, error) {
	if dir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		} else {
			dir = userCache
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create token cache directory: %w", err)
	}

	path := filepath.Join(dir, "oidc_"+app+".json")
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// List returns every cached entry. A missing or unreadable file is an empty
// cache, never an error.
func (s *Store) List() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		slog.Warn("token cache read lock failed", "path", s.path, "error", err.Error())
		return nil
	}
	defer func() { _ = s.lock.Unlock() }()

	entries := s.read()
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}

// Update runs one locked read-modify-write cycle: the cache is re-read from
// disk, handed to mutate keyed by uuid, and rewritten whole.
func (s *Store) Update(mutate func(map[string]*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("cannot lock token cache: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	entries := s.read()
	mutate(entries)

	serializable := make(map[string]*Entry, len(entries))
	for uuid, e := range entries {
		serializable[uuid] = e
	}
	data, err := json.MarshalIndent(serializable, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode token cache: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("cannot write token cache: %w", err)
	}
	return nil
}

// Delete removes the entry with the given uuid if present.
func (s *Store) Delete(uuid string) error {
	return s.Update(func(entries map[string]*Entry) {
		delete(entries, uuid)
	})
}

// read loads the cache, treating absence and corruption as empty.
func (s *Store) read() map[string]*Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("token cache unreadable, treating as empty", "path", s.path, "error", err.Error())
		}
		return make(map[string]*Entry)
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("token cache corrupt, treating as empty", "path", s.path, "error", err.Error())
		return make(map[string]*Entry)
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	for uuid, e := range entries {
		e.UUID = uuid
	}
	return entries
}

// Path returns the location of the backing file. Mainly useful in tests.
func (s *Store) Path() string {
	return s.path
}
