package broker

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jvo203/fits-web-ql-sub000/internal/fits"
	"github.com/jvo203/fits-web-ql-sub000/internal/molecule"
	"github.com/jvo203/fits-web-ql-sub000/internal/registry"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Session:     50 * time.Millisecond,
		OrphanSweep: time.Hour,
		Dummy:       time.Hour,
	}
}

func startBroker(t *testing.T, reg *registry.Registry, cat *molecule.Catalog, timeouts Timeouts) *Broker {
	t.Helper()
	b := New(reg, cat, timeouts)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session message")
		return ""
	}
}

// loadTinyCube ingests a minimal U8 cube so the entry leaves the dummy state.
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

	path := filepath.Join(t.TempDir(), "tiny.fits")
	require.NoError(t, os.WriteFile(path, append(header, 1, 2), 0o644))
	require.NoError(t, fits.NewIngestor(cube, nil, t.TempDir(), nil).LoadFromPath(path))
}

func TestBroadcastFanOutPreservesOrder(t *testing.T) {
	reg := registry.New()
	b := startBroker(t, reg, nil, testTimeouts())

	sendA := make(chan string, 16)
	sendB := make(chan string, 16)
	idA := b.Connect("X", sendA)
	idB := b.Connect("X", sendB)
	require.NotEqual(t, idA, idB)

	for i := int32(1); i <= 5; i++ {
		b.Progress("X", "processing FITS", 5, i)
	}

	for _, ch := range []chan string{sendA, sendB} {
		for i := int32(1); i <= 5; i++ {
			var env struct {
				Type    string `json:"type"`
				Message string `json:"message"`
				Total   int32  `json:"total"`
				Running int32  `json:"running"`
			}
			require.NoError(t, json.Unmarshal([]byte(recv(t, ch)), &env))
			assert.Equal(t, "progress", env.Type)
			assert.Equal(t, "processing FITS", env.Message)
			assert.Equal(t, int32(5), env.Total)
			assert.Equal(t, i, env.Running, "events arrive in broker order")
		}
	}

	b.Disconnect(idA, "X")
	b.Disconnect(idB, "X")
}

func TestBroadcastUnknownDatasetDropped(t *testing.T) {
	b := startBroker(t, registry.New(), nil, testTimeouts())

	// nothing subscribes to this dataset; the broadcast simply disappears
	b.Broadcast("nowhere", "payload")
	b.Progress("nowhere", "processing FITS", 1, 1)

	assert.Equal(t, "", b.Molecules("nowhere"))
}

func TestConnectAfterEventsMissesThem(t *testing.T) {
	b := startBroker(t, registry.New(), nil, testTimeouts())

	b.Progress("X", "processing FITS", 2, 1)

	send := make(chan string, 16)
	id := b.Connect("X", send)
	defer b.Disconnect(id, "X")

	b.Progress("X", "processing FITS", 2, 2)

	var env struct {
		Running int32 `json:"running"`
	}
	require.NoError(t, json.Unmarshal([]byte(recv(t, send)), &env))
	assert.Equal(t, int32(2), env.Running, "events before Connect are lost by design")
	assert.Empty(t, send)
}

func TestDelayedEvictionRemovesLoadedCube(t *testing.T) {
	reg := registry.New()
	cube, inserted := reg.GetOrInsertDummy("ds", "")
	require.True(t, inserted)
	loadTinyCube(t, cube)

	b := startBroker(t, reg, nil, testTimeouts())

	// populate the molecule cache so eviction has something to clear
	b.SetFrequencyRange("ds", 0, 0)
	require.Equal(t, "[]", b.Molecules("ds"))

	send := make(chan string, 1)
	id := b.Connect("ds", send)
	b.Disconnect(id, "ds")

	require.Eventually(t, func() bool {
		_, ok := reg.Read("ds")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "the cube is evicted after the inactivity window")

	assert.Equal(t, "", b.Molecules("ds"), "the molecule entry goes with the cube")
}

func TestDelayedEvictionSparesDummyCube(t *testing.T) {
	reg := registry.New()
	_, inserted := reg.GetOrInsertDummy("pending", "")
	require.True(t, inserted)

	b := startBroker(t, reg, nil, testTimeouts())

	send := make(chan string, 1)
	id := b.Connect("pending", send)
	b.Disconnect(id, "pending")

	time.Sleep(200 * time.Millisecond)

	_, ok := reg.Read("pending")
	assert.True(t, ok, "dummy cubes belong to the orphan sweep, not the session timer")
}

func TestDelayedEvictionSparesReconnectedDataset(t *testing.T) {
	reg := registry.New()
	cube, _ := reg.GetOrInsertDummy("busy", "")
	loadTinyCube(t, cube)

	b := startBroker(t, reg, nil, testTimeouts())

	send := make(chan string, 1)
	id := b.Connect("busy", send)
	b.Disconnect(id, "busy")

	// a new viewer arrives before the window elapses
	send2 := make(chan string, 1)
	id2 := b.Connect("busy", send2)
	defer b.Disconnect(id2, "busy")

	time.Sleep(200 * time.Millisecond)

	_, ok := reg.Read("busy")
	assert.True(t, ok, "an active session blocks eviction")
}

func TestOrphanSweepEvictsIdleCube(t *testing.T) {
	reg := registry.New()
	cube, _ := reg.GetOrInsertDummy("idle", "")
	loadTinyCube(t, cube)

	timeouts := Timeouts{
		Session:     20 * time.Millisecond,
		OrphanSweep: 50 * time.Millisecond,
		Dummy:       time.Hour,
	}
	startBroker(t, reg, nil, timeouts)

	require.Eventually(t, func() bool {
		_, ok := reg.Read("idle")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "an unsubscribed idle cube is swept")
}

func TestOrphanSweepSparesFreshDummy(t *testing.T) {
	reg := registry.New()
	reg.GetOrInsertDummy("loading", "")

	timeouts := Timeouts{
		Session:     time.Millisecond,
		OrphanSweep: 30 * time.Millisecond,
		Dummy:       time.Hour,
	}
	startBroker(t, reg, nil, timeouts)

	time.Sleep(150 * time.Millisecond)

	_, ok := reg.Read("loading")
	assert.True(t, ok, "a dummy inside its generous window survives the sweep")
}

func TestFrequencyRangeZeroStoresEmptyArray(t *testing.T) {
	b := startBroker(t, registry.New(), nil, testTimeouts())

	b.SetFrequencyRange("ds", 0, 87.0)
	assert.Equal(t, "[]", b.Molecules("ds"))

	b.SetFrequencyRange("ds2", 86.0, 0)
	assert.Equal(t, "[]", b.Molecules("ds2"))
}

func buildTestCatalog(t *testing.T) *molecule.Catalog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "splatalogue_v3.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE lines (
		species TEXT, name TEXT, frequency REAL, qn TEXT,
		cdms_intensity REAL, lovas_intensity REAL, e_l REAL, linelist TEXT)`)
	require.NoError(t, err)
	for _, row := range [][]interface{}{
		{"CO", "Carbon Monoxide", 86.5, "1-0", -5.0, 1.2, 0.0, "CDMS"},
		{"SiO", "Silicon Monoxide", 86.9, "2-1", -4.1, 0.8, 6.2, "CDMS"},
		{"HCN", "Hydrogen Cyanide", 88.6, "1-0", -3.5, 2.1, 0.0, "JPL"},
	} {
		_, err = db.Exec("INSERT INTO lines VALUES (?, ?, ?, ?, ?, ?, ?, ?)", row...)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cat, err := molecule.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestFrequencyRangeScopesCatalogRows(t *testing.T) {
	cat := buildTestCatalog(t)
	b := startBroker(t, registry.New(), cat, testTimeouts())

	b.SetFrequencyRange("ds", 86.0, 87.0)

	var mols []molecule.Molecule
	require.NoError(t, json.Unmarshal([]byte(b.Molecules("ds")), &mols))
	require.Len(t, mols, 2, "exactly the rows with frequency in [86, 87]")
	assert.Equal(t, "CO", mols[0].Species)
	assert.Equal(t, "SiO", mols[1].Species)
}

func TestQueryMoleculesBypassesCache(t *testing.T) {
	cat := buildTestCatalog(t)
	b := startBroker(t, registry.New(), cat, testTimeouts())

	out := b.QueryMolecules(88.0, 89.0)

	var mols []molecule.Molecule
	require.NoError(t, json.Unmarshal([]byte(out), &mols))
	require.Len(t, mols, 1)
	assert.Equal(t, "HCN", mols[0].Species)

	assert.Equal(t, "", b.Molecules("ds"), "one-off queries leave the cache alone")
}

func TestDisconnectMalformedSessionID(t *testing.T) {
	b := startBroker(t, registry.New(), nil, testTimeouts())

	// must not panic or wedge the broker
	b.Disconnect("not-a-uuid", "ds")
	assert.Equal(t, "", b.Molecules("ds"))
}
