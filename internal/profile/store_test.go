package profile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
)

func TestLoadMissingRecord(t *testing.T) {
	s := NewStore(zap.NewNop())

	_, err := s.Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	s := NewStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := s.Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSaveAndLoadRoundTripPreservesUnknownFields(t *testing.T) {
	s := NewStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "namespace.json")

	record := schemas.Profile{
		"name":         "testns",
		"custom_field": "kept",
		"options": map[string]any{
			"env": map[string]any{
				schemas.ConfigBlobKey: `{"screen.width":1920}`,
				"SOME_OTHER_VAR":      "value",
			},
		},
	}
	require.NoError(t, s.Save(path, record))

	loaded, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kept", loaded["custom_field"])
	assert.Equal(t, "value", loaded.Env()["SOME_OTHER_VAR"])
	assert.Equal(t, `{"screen.width":1920}`, loaded.ConfigBlobRaw())
}

func TestLockSerializesAccess(t *testing.T) {
	s := NewStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "namespace.json")

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(path)
			defer unlock()
			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()
			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max, "at most one holder of the per-path lock")
}

func TestCreateProfile(t *testing.T) {
	s := NewStore(zap.NewNop())
	root := t.TempDir()

	res, err := s.CreateProfile(root, CreateOptions{
		DisplayName: "Test Profile",
		Namespace:   "work",
		ConfigBlob:  `{"screen.width":1920,"screen.height":1080}`,
		Timezone:    "Europe/Belgrade",
	})
	require.NoError(t, err)
	assert.Contains(t, res.ProfileID, "profile_")

	ns, err := s.Load(res.NamespacePath)
	require.NoError(t, err)
	assert.Equal(t, "work", ns["name"])
	assert.Equal(t, `{"screen.width":1920,"screen.height":1080}`, ns.ConfigBlobRaw())
	assert.Equal(t, "Europe/Belgrade", ns.Options()["timezone"])
	assert.NotEmpty(t, ns["user_data_dir"])

	meta, err := s.Load(filepath.Join(res.ProfileDir, "profile.json"))
	require.NoError(t, err)
	assert.Equal(t, res.ProfileID, meta["profile_id"])

	paths, err := s.ListNamespaces(root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, res.NamespacePath, paths[0])
}
