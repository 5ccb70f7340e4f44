package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedclient/pkg/fedora"
)

func testIdentity() fedora.Identity {
	return fedora.Identity{BaseURL: "https://svc.example.com/", Username: "alice"}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	id := testIdentity()

	cookies := []Cookie{{Name: "tg-visit", Value: "abc"}}
	store.Save(id, cookies)

	got := store.Load(id)
	require.Equal(t, cookies, got)
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())

	got := store.Load(testIdentity())
	assert.Empty(t, got)
}

func TestStore_ForgetThenLoadIsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	id := testIdentity()

	store.Save(id, []Cookie{{Name: "tg-visit", Value: "abc"}})
	store.Forget(id)

	assert.Empty(t, store.Load(id))
}

func TestStore_DistinctIdentitiesDoNotCollide(t *testing.T) {
	store := NewStore(t.TempDir())

	alice := fedora.Identity{BaseURL: "https://svc.example.com/", Username: "alice"}
	bob := fedora.Identity{BaseURL: "https://svc.example.com/", Username: "bob"}
	otherSvc := fedora.Identity{BaseURL: "https://other.example.com/", Username: "alice"}

	store.Save(alice, []Cookie{{Name: "tg-visit", Value: "a"}})
	store.Save(bob, []Cookie{{Name: "tg-visit", Value: "b"}})
	store.Save(otherSvc, []Cookie{{Name: "tg-visit", Value: "c"}})

	assert.Equal(t, "a", store.Load(alice)[0].Value)
	assert.Equal(t, "b", store.Load(bob)[0].Value)
	assert.Equal(t, "c", store.Load(otherSvc)[0].Value)
}

func TestStore_EmptyCookieValueNotWritten(t *testing.T) {
	store := NewStore(t.TempDir())
	id := testIdentity()

	store.Save(id, []Cookie{{Name: "tg-visit", Value: ""}})

	assert.Empty(t, store.Load(id))

	// The file must not contain the entry either.
	data, err := os.ReadFile(store.Path())
	if err == nil {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc))
		sessions, _ := doc["sessions"].(map[string]any)
		assert.NotContains(t, sessions, id.Key())
	}
}

func TestStore_CorruptFileTreatedAsEmptyAndRecovered(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id := testIdentity()

	require.NoError(t, os.WriteFile(store.Path(), []byte("not json"), 0600))

	assert.Empty(t, store.Load(id))

	// A subsequent store replaces the file with a valid document.
	store.Save(id, []Cookie{{Name: "tg-visit", Value: "abc"}})

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var doc document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, schemaVersion, doc.Version)
	assert.Equal(t, [][2]string{{"tg-visit", "abc"}}, doc.Sessions[id.Key()])
}

func TestStore_UnknownVersionRefused(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id := testIdentity()

	stale := document{
		Version:  99,
		Sessions: map[string][][2]string{id.Key(): {{"tg-visit", "old"}}},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0600))

	assert.Empty(t, store.Load(id))
}

func TestStore_SavePreservesOtherEntries(t *testing.T) {
	store := NewStore(t.TempDir())

	alice := fedora.Identity{BaseURL: "https://svc.example.com/", Username: "alice"}
	bob := fedora.Identity{BaseURL: "https://svc.example.com/", Username: "bob"}

	store.Save(alice, []Cookie{{Name: "tg-visit", Value: "a"}})
	store.Save(bob, []Cookie{{Name: "tg-visit", Value: "b"}})
	store.Save(alice, []Cookie{{Name: "tg-visit", Value: "a2"}})

	assert.Equal(t, "b", store.Load(bob)[0].Value)
	assert.Equal(t, "a2", store.Load(alice)[0].Value)
}

func TestStore_DisabledDirectoryFallsBackToMemory(t *testing.T) {
	// Point the store at a path that cannot be a directory.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	store := NewStore(filepath.Join(blocker, "nested"))
	id := testIdentity()

	store.Save(id, []Cookie{{Name: "tg-visit", Value: "abc"}})
	assert.Equal(t, "abc", store.Load(id)[0].Value)
}
