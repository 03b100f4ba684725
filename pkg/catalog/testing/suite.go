// Package testing provides a conformance suite every catalog.Store backend
// must pass.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the Librarian contract tests against one backend.
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store. The suite closes it.
	NewStore func(t *testing.T) catalog.Store
}

// Run executes every test of the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WellKnownEntries", suite.testWellKnownEntries)
	t.Run("New", suite.testNew)
	t.Run("Get", suite.testGet)
	t.Run("Remove", suite.testRemove)
	t.Run("ModifyMetadata", suite.testModifyMetadata)
	t.Run("TraverseLN", suite.testTraverseLN)
	t.Run("ConcurrentAdd", suite.testConcurrentAdd)
	t.Run("Closed", suite.testClosed)
}

func (suite *StoreTestSuite) open(t *testing.T) catalog.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ============================================================================
// Helpers
// ============================================================================

// CreateEntry creates md (optionally under an explicit GUID) and returns
// the GUID, failing the test on any other status than done.
func CreateEntry(t *testing.T, store catalog.Librarian, md *catalog.Metadata) string {
	t.Helper()
	res, err := store.New(context.Background(), map[string]*catalog.Metadata{"x": md})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusDone, res["x"].Status)
	return res["x"].GUID
}

// Link adds name → child in parent and the matching back-reference.
func Link(t *testing.T, store catalog.Librarian, parent, name, child string) {
	t.Helper()
	res, err := store.ModifyMetadata(context.Background(), map[string]catalog.Change{
		"entry": {GUID: parent, Type: catalog.ChangeAdd, Section: catalog.SectionEntries, Property: name, Value: child},
		"back": {
			GUID: child, Type: catalog.ChangeSet, Section: catalog.SectionParents,
			Property: catalog.ParentKey(parent, name), Value: catalog.ParentMarker,
		},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusSet, res["entry"])
	require.Equal(t, catalog.StatusSet, res["back"])
}

func collection() *catalog.Metadata {
	return &catalog.Metadata{Entry: catalog.Entry{Type: catalog.EntryTypeCollection}}
}

func file() *catalog.Metadata {
	return &catalog.Metadata{
		Entry:  catalog.Entry{Type: catalog.EntryTypeFile},
		States: catalog.States{Size: catalog.Int64(3), Checksum: "c", ChecksumType: "md5", NeededReplicas: catalog.Int(1)},
	}
}

// ============================================================================
// Tests
// ============================================================================

func (suite *StoreTestSuite) testWellKnownEntries(t *testing.T) {
	store := suite.open(t)

	got, err := store.Get(context.Background(), []string{catalog.GlobalRootGUID, catalog.ShepherdRegistryGUID}, nil)
	require.NoError(t, err)
	require.Contains(t, got, catalog.GlobalRootGUID)
	require.Contains(t, got, catalog.ShepherdRegistryGUID)
	assert.True(t, got[catalog.GlobalRootGUID].IsCollection())
	assert.NoError(t, store.Healthcheck(context.Background()))
}

func (suite *StoreTestSuite) testNew(t *testing.T) {
	t.Run("AllocatesGUID", func(t *testing.T) {
		store := suite.open(t)
		res, err := store.New(context.Background(), map[string]*catalog.Metadata{"a": file(), "b": file()})
		require.NoError(t, err)
		assert.Equal(t, catalog.StatusDone, res["a"].Status)
		assert.Equal(t, catalog.StatusDone, res["b"].Status)
		assert.NotEmpty(t, res["a"].GUID)
		assert.NotEqual(t, res["a"].GUID, res["b"].GUID)
	})

	t.Run("ExplicitGUID", func(t *testing.T) {
		store := suite.open(t)
		md := file()
		md.Entry.GUID = "fixed"
		guid := CreateEntry(t, store, md)
		assert.Equal(t, "fixed", guid)

		res, err := store.New(context.Background(), map[string]*catalog.Metadata{"again": md})
		require.NoError(t, err)
		assert.Equal(t, catalog.StatusExists, res["again"].Status)
	})

	t.Run("StoresCopy", func(t *testing.T) {
		store := suite.open(t)
		md := file()
		guid := CreateEntry(t, store, md)
		md.States.Checksum = "mutated"

		got, err := store.Get(context.Background(), []string{guid}, nil)
		require.NoError(t, err)
		assert.Equal(t, "c", got[guid].States.Checksum)
	})
}

func (suite *StoreTestSuite) testGet(t *testing.T) {
	store := suite.open(t)
	guid := CreateEntry(t, store, file())

	got, err := store.Get(context.Background(), []string{guid, "missing"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, file().States, got[guid].States)

	filtered, err := store.Get(context.Background(), []string{guid}, []catalog.Filter{{Section: catalog.SectionEntry}})
	require.NoError(t, err)
	assert.True(t, filtered[guid].IsFile())
	assert.Nil(t, filtered[guid].States.Size)
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	store := suite.open(t)
	guid := CreateEntry(t, store, file())

	res, err := store.Remove(context.Background(), map[string]string{"a": guid, "b": "missing"})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRemoved, res["a"])
	assert.Equal(t, catalog.StatusNoSuchGUID, res["b"])

	got, err := store.Get(context.Background(), []string{guid}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (suite *StoreTestSuite) testModifyMetadata(t *testing.T) {
	store := suite.open(t)
	ctx := context.Background()
	guid := CreateEntry(t, store, file())

	loc := catalog.Location{ServiceID: "s1", ReferenceID: "r1"}.String()
	res, err := store.ModifyMetadata(ctx, map[string]catalog.Change{
		"set":     {GUID: guid, Type: catalog.ChangeSet, Section: catalog.SectionLocations, Property: loc, Value: string(catalog.ReplicaCreating)},
		"missing": {GUID: "missing", Type: catalog.ChangeSet, Section: catalog.SectionPolicy, Property: "x", Value: "y"},
		"bad":     {GUID: guid, Type: catalog.ChangeSet, Section: "nope", Property: "x", Value: "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusSet, res["set"])
	assert.Equal(t, catalog.StatusNoSuchGUID, res["missing"])
	assert.Contains(t, res["bad"], "failed:")

	res, err = store.ModifyMetadata(ctx, map[string]catalog.Change{
		"flip": {
			GUID: guid, Type: catalog.ChangeSetIfValue, Section: catalog.SectionLocations, Property: loc,
			Value: string(catalog.ReplicaAlive), Expected: string(catalog.ReplicaCreating),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusSet, res["flip"])

	res, err = store.ModifyMetadata(ctx, map[string]catalog.Change{
		"again": {
			GUID: guid, Type: catalog.ChangeSetIfValue, Section: catalog.SectionLocations, Property: loc,
			Value: string(catalog.ReplicaAlive), Expected: string(catalog.ReplicaCreating),
		},
		"add": {GUID: guid, Type: catalog.ChangeAdd, Section: catalog.SectionLocations, Property: loc, Value: string(catalog.ReplicaCreating)},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusNotChanged, res["again"])
	assert.Equal(t, catalog.StatusEntryExists, res["add"])

	res, err = store.ModifyMetadata(ctx, map[string]catalog.Change{
		"unset": {GUID: guid, Type: catalog.ChangeUnset, Section: catalog.SectionLocations, Property: loc},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusUnset, res["unset"])

	got, err := store.Get(ctx, []string{guid}, nil)
	require.NoError(t, err)
	assert.Empty(t, got[guid].Locations)
}

func (suite *StoreTestSuite) testTraverseLN(t *testing.T) {
	store := suite.open(t)
	dir := CreateEntry(t, store, collection())
	Link(t, store, catalog.GlobalRootGUID, "dir", dir)
	f := CreateEntry(t, store, file())
	Link(t, store, dir, "f", f)

	res, err := store.TraverseLN(context.Background(), map[string]string{
		"full":    "/dir/f",
		"partial": "/dir/g",
		"guid":    dir + "/f",
		"none":    "missing/f",
	})
	require.NoError(t, err)

	assert.True(t, res["full"].Complete)
	assert.Equal(t, f, res["full"].GUID)
	assert.Equal(t, []catalog.Link{
		{Name: "", GUID: catalog.GlobalRootGUID},
		{Name: "dir", GUID: dir},
		{Name: "f", GUID: f},
	}, res["full"].Chain)

	assert.False(t, res["partial"].Complete)
	assert.Equal(t, dir, res["partial"].GUID)
	assert.Equal(t, "g", res["partial"].RestLN)

	assert.True(t, res["guid"].Complete)
	assert.Equal(t, f, res["guid"].GUID)

	assert.False(t, res["none"].Complete)
	assert.Empty(t, res["none"].Chain)
}

func (suite *StoreTestSuite) testConcurrentAdd(t *testing.T) {
	store := suite.open(t)
	const workers = 8

	var wg sync.WaitGroup
	statuses := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.ModifyMetadata(context.Background(), map[string]catalog.Change{
				"add": {
					GUID: catalog.GlobalRootGUID, Type: catalog.ChangeAdd, Section: catalog.SectionEntries,
					Property: "race", Value: fmt.Sprintf("g%d", i),
				},
			})
			if assert.NoError(t, err) {
				statuses[i] = res["add"]
			}
		}(i)
	}
	wg.Wait()

	set := 0
	for _, s := range statuses {
		if s == catalog.StatusSet {
			set++
		} else {
			assert.Equal(t, catalog.StatusEntryExists, s)
		}
	}
	assert.Equal(t, 1, set)
}

func (suite *StoreTestSuite) testClosed(t *testing.T) {
	store := suite.NewStore(t)
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), []string{catalog.GlobalRootGUID}, nil)
	assert.Error(t, err)
	assert.Error(t, store.Healthcheck(context.Background()))
}
