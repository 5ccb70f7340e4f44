package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"fedclient/pkg/fedora"
)

// DefaultCacheDir is the directory under the user's home that holds the
// session cache file.
const DefaultCacheDir = ".fedora"

// cacheFileName is the session cache file inside the cache directory.
const cacheFileName = "sessions.json"

// schemaVersion is the major version of the on-disk document. Documents with
// a different version are refused and treated as empty; the next successful
// Save rewrites them in the current format.
const schemaVersion = 1

// Cookie is one session cookie as stored in the cache.
type Cookie struct {
	Name  string
	Value string
}

// document is the on-disk shape: a versioned mapping from identity key to
// [name, value] cookie pairs.
type document struct {
	Version  int                    `json:"version"`
	Sessions map[string][][2]string `json:"sessions"`
}

// Store is a lock-protected, file-backed cookie cache keyed by Identity.
//
// A Store is safe to share across processes via the advisory lock on the
// cache file. Within a process it is additionally guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	path     string
	lock     *flock.Flock
	disabled bool
	mem      map[string][]Cookie
}

// NewStore creates a session cache rooted at dir. An empty dir selects
// $HOME/.fedora, falling back to the system temp directory when the home
// directory is unavailable.
//
// If the directory cannot be created the store is disabled: it still works
// in memory for this process, and the next run simply re-logs in.
func NewStore(dir string) *Store {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			dir = filepath.Join(os.TempDir(), DefaultCacheDir)
		} else {
			dir = filepath.Join(home, DefaultCacheDir)
		}
	}

	s := &Store{
		path: filepath.Join(dir, cacheFileName),
		mem:  make(map[string][]Cookie),
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Warn("session cache disabled: cannot create cache directory",
			"dir", dir,
			"error", err.Error(),
		)
		s.disabled = true
		return s
	}

	s.lock = flock.New(s.path + ".lock")
	return s
}

// Load returns the cookie set last stored for the identity. A missing file,
// a corrupt file, or an absent key all yield an empty result silently.
func (s *Store) Load(id fedora.Identity) []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return s.mem[id.Key()]
	}

	if err := s.lock.RLock(); err != nil {
		slog.Warn("session cache read lock failed, using in-memory copy",
			"path", s.path,
			"error", err.Error(),
		)
		return s.mem[id.Key()]
	}
	defer func() { _ = s.lock.Unlock() }()

	doc := s.read()
	pairs, ok := doc.Sessions[id.Key()]
	if !ok {
		return s.mem[id.Key()]
	}

	cookies := make([]Cookie, 0, len(pairs))
	for _, p := range pairs {
		cookies = append(cookies, Cookie{Name: p[0], Value: p[1]})
	}
	return cookies
}

// Save replaces the cookie set for the identity while preserving all other
// entries. Cookies with empty values are never written; if nothing remains
// after filtering, the entry is removed instead.
//
// A failed write is logged and the cookies stay available in memory for the
// rest of the process.
func (s *Store) Save(id fedora.Identity, cookies []Cookie) {
	var kept []Cookie
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		kept = append(kept, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(kept) == 0 {
		delete(s.mem, id.Key())
	} else {
		s.mem[id.Key()] = kept
	}

	if s.disabled {
		return
	}

	if err := s.update(func(doc *document) {
		if len(kept) == 0 {
			delete(doc.Sessions, id.Key())
			return
		}
		pairs := make([][2]string, 0, len(kept))
		for _, c := range kept {
			pairs = append(pairs, [2]string{c.Name, c.Value})
		}
		doc.Sessions[id.Key()] = pairs
	}); err != nil {
		slog.Warn("session cache write failed, continuing in-memory",
			"path", s.path,
			"identity", id.Key(),
			"error", err.Error(),
		)
	}
}

// Forget removes the entry for the identity if present. Absence is not an
// error.
func (s *Store) Forget(id fedora.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mem, id.Key())

	if s.disabled {
		return
	}

	if err := s.update(func(doc *document) {
		delete(doc.Sessions, id.Key())
	}); err != nil {
		slog.Warn("session cache forget failed",
			"path", s.path,
			"identity", id.Key(),
			"error", err.Error(),
		)
	}
}

// update runs one locked read-modify-write cycle against the cache file.
// The file is re-read under the lock so concurrent writers from other
// processes are merged rather than overwritten.
func (s *Store) update(mutate func(*document)) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("cannot lock session cache: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc := s.read()
	mutate(&doc)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode session cache: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("cannot write session cache: %w", err)
	}
	return nil
}

// read loads the cache document, treating every failure mode as an empty
// cache: missing file, invalid JSON, and unknown schema versions all yield
// a fresh document. The next successful update rewrites the file.
func (s *Store) read() document {
	empty := document{Version: schemaVersion, Sessions: make(map[string][][2]string)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("session cache unreadable, treating as empty",
				"path", s.path,
				"error", err.Error(),
			)
		}
		return empty
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("session cache corrupt, treating as empty",
			"path", s.path,
			"error", err.Error(),
		)
		return empty
	}
	if doc.Version != schemaVersion {
		slog.Warn("session cache has unknown schema version, treating as empty",
			"path", s.path,
			"version", doc.Version,
		)
		return empty
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string][][2]string)
	}
	return doc
}

// Path returns the location of the backing file. Mainly useful in tests.
func (s *Store) Path() string {
	return s.path
}
