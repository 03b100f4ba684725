package bartender

import (
	"context"
	"testing"

	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.mkdir(t, "/dir", "/dir/sub", "/empty")
	guid := f.put(t, "/dir/f")

	res := f.svc.List(ctx, map[string]string{
		"dir":     "/dir/",
		"empty":   "/empty",
		"file":    "/dir/f",
		"missing": "/nope",
	}, []catalog.Filter{{Section: catalog.SectionEntry, Property: catalog.PropertyType}})

	require.Equal(t, StatusFound, res["dir"].Status)
	require.Len(t, res["dir"].Entries, 2)
	assert.Equal(t, guid, res["dir"].Entries["f"].GUID)
	assert.True(t, res["dir"].Entries["f"].Metadata.IsFile())
	assert.Nil(t, res["dir"].Entries["f"].Metadata.States.Size)
	assert.True(t, res["dir"].Entries["sub"].Metadata.IsCollection())

	assert.Equal(t, StatusFound, res["empty"].Status)
	assert.Empty(t, res["empty"].Entries)

	assert.Equal(t, StatusIsAFile, res["file"].Status)
	assert.NotNil(t, res["file"].Entries)
	assert.Empty(t, res["file"].Entries)

	assert.Equal(t, StatusNotFound, res["missing"].Status)
}

func TestListDanglingChild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.mkdir(t, "/dir")
	guid := f.put(t, "/dir/f")

	removed, err := f.lib.Remove(ctx, map[string]string{"r": guid})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusRemoved, removed["r"])

	res := f.svc.List(ctx, map[string]string{"dir": "/dir"}, nil)
	require.Equal(t, StatusFound, res["dir"].Status)
	assert.Equal(t, guid, res["dir"].Entries["f"].GUID)
	assert.True(t, res["dir"].Entries["f"].Metadata.Empty())
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.mkdir(t, "/dir")
	guid := f.put(t, "/dir/f")

	res := f.svc.Stat(ctx, map[string]string{"f": "/dir/f", "bare": guid, "missing": "/dir/g"})
	assert.Equal(t, int64(0), *res["f"].States.Size)
	assert.Equal(t, "md5", res["f"].States.ChecksumType)
	assert.Equal(t, res["f"].Triples(), res["bare"].Triples())
	assert.True(t, res["missing"].Empty())
}

func TestPolicyAuthorization(t *testing.T) {
	f := newFixture(t, nil, WithAuthorizer(PolicyAuthorizer{}))
	alice := WithIdentity(context.Background(), "alice")
	bob := WithIdentity(context.Background(), "bob")

	made := f.svc.MakeCollection(alice, map[string]MakeCollectionRequest{"d": {
		LN:       "/secure",
		Metadata: &catalog.Metadata{Policy: map[string]string{"alice": "+read +addEntry +delete", PolicyAllKey: "+read"}},
	}})
	require.Equal(t, StatusDone, made["d"].Status)

	put := f.svc.PutFile(bob, map[string]PutFileRequest{"f": {LN: "/secure/f", Metadata: fileMD(0, 0)}})
	assert.Equal(t, StatusDenied, put["f"].Status)

	put = f.svc.PutFile(alice, map[string]PutFileRequest{"f": {LN: "/secure/f", Metadata: fileMD(0, 0)}})
	assert.Equal(t, StatusDone, put["f"].Status)

	assert.Equal(t, StatusFound, f.svc.List(bob, map[string]string{"l": "/secure"}, nil)["l"].Status)
	assert.Equal(t, StatusDenied, f.svc.UnmakeCollection(bob, map[string]string{"u": "/secure"})["u"])
	assert.Equal(t, StatusDenied, f.svc.Modify(bob, map[string]ModifyRequest{"m": {
		LN: "/secure", ChangeType: catalog.ChangeSet, Section: catalog.SectionPolicy, Property: "bob", Value: "+delete",
	}})["m"])
	assert.Equal(t, StatusCollectionNotEmpty, f.svc.UnmakeCollection(alice, map[string]string{"u": "/secure"})["u"])
}
