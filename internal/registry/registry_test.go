package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvo203/fits-web-ql-sub000/internal/fits"
)

// loadTinyCube ingests a minimal U8 cube so the registry entry leaves the
// dummy state the way production entries do.
func loadTinyCube(t *testing.T, cube *fits.Cube) {
	t.Helper()

	card := func(key, value string) []byte {
		return []byte(fmt.Sprintf("%-80s", fmt.Sprintf("%-8s= %s", key, value)))
	}
	header := make([]byte, 0, fits.ChunkLength)
	for _, c := range [][]byte{
		card("BITPIX", "8"),
		card("NAXIS1", "2"),
		card("NAXIS2", "1"),
		card("NAXIS3", "1"),
		card("BSCALE", "1.0"),
		[]byte(fmt.Sprintf("%-80s", "END")),
	} {
		header = append(header, c...)
	}
	for len(header) < fits.ChunkLength {
		header = append(header, ' ')
	}

	path := filepath.Join(t.TempDir(), cube.DatasetID+".fits")
	require.NoError(t, os.WriteFile(path, append(header, 1, 2), 0o644))
	require.NoError(t, fits.NewIngestor(cube, nil, t.TempDir(), nil).LoadFromPath(path))
}

func TestGetOrInsertDummyInsertsOnce(t *testing.T) {
	r := New()

	first, inserted := r.GetOrInsertDummy("alma/cube1", "")
	require.True(t, inserted)
	require.NotNil(t, first)
	assert.True(t, first.IsDummy())

	second, inserted := r.GetOrInsertDummy("alma/cube1", "")
	assert.False(t, inserted, "a second call must not insert")
	assert.Same(t, first, second, "all callers share one handle")

	assert.Equal(t, 1, r.Len())
}

func TestReadAndRemove(t *testing.T) {
	r := New()

	_, ok := r.Read("missing")
	assert.False(t, ok)

	cube, _ := r.GetOrInsertDummy("ds", "")
	got, ok := r.Read("ds")
	require.True(t, ok)
	assert.Same(t, cube, got)

	r.Remove("ds")
	_, ok = r.Read("ds")
	assert.False(t, ok)

	// removing twice is harmless
	r.Remove("ds")
}

func TestTouchUpdatesTimestamp(t *testing.T) {
	r := New()
	cube, _ := r.GetOrInsertDummy("ds", "")
	first := cube.LastAccess()

	time.Sleep(5 * time.Millisecond)
	r.Touch("ds")
	assert.True(t, cube.LastAccess().After(first))

	// unknown identifiers are a no-op
	r.Touch("missing")
}

func TestEvictionCandidates(t *testing.T) {
	r := New()

	r.GetOrInsertDummy("dummy-ds", "")
	loaded, _ := r.GetOrInsertDummy("loaded-ds", "")
	loadTinyCube(t, loaded)
	require.False(t, loaded.IsDummy())

	time.Sleep(10 * time.Millisecond)
	now := time.Now()

	// both thresholds generous: nothing to evict
	assert.Empty(t, r.EvictionCandidates(now, time.Hour, time.Hour))

	// loaded cubes age out on the short threshold, dummies hold on
	candidates := r.EvictionCandidates(now, time.Millisecond, time.Hour)
	assert.Equal(t, []string{"loaded-ds"}, candidates)

	// the dummy threshold finally lets go of the placeholder too
	candidates = r.EvictionCandidates(now, time.Millisecond, time.Millisecond)
	assert.ElementsMatch(t, []string{"dummy-ds", "loaded-ds"}, candidates)

	// with the loaded threshold back at an hour only the placeholder remains
	r.Touch("loaded-ds")
	candidates = r.EvictionCandidates(time.Now(), time.Hour, time.Millisecond)
	assert.Equal(t, []string{"dummy-ds"}, candidates)
}
