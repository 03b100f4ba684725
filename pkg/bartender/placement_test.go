package bartender

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/bartender/pkg/catalog"
	shepherdmemory "github.com/marmos91/bartender/pkg/shepherd/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliveServicesFiltersHeartbeats(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_000_000, 0)
	f := newFixture(t, []string{"fresh", "stale", "down", "excluded"},
		WithClock(func() time.Time { return now }))
	f.svc.config.HeartbeatTimeout = time.Minute

	f.heartbeat(t, "fresh", now.Add(-10*time.Second))
	f.heartbeat(t, "stale", now.Add(-2*time.Minute))
	f.heartbeat(t, "excluded", now)
	f.heartbeat(t, "down", time.Unix(0, 0))

	services, err := f.svc.aliveServices(ctx, map[string]struct{}{"excluded": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, services)

	f.svc.config.HeartbeatTimeout = 0
	services, err = f.svc.aliveServices(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fresh", "stale", "excluded"}, services)
}

func TestAddReplicaExcludesHolders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"s1"})

	put := f.svc.PutFile(ctx, map[string]PutFileRequest{"a": {LN: "/a", Metadata: fileMD(11, 1)}})
	require.Equal(t, StatusDone, put["a"].Status)
	guid := put["a"].GUID

	res := f.svc.AddReplica(ctx, map[string]AddReplicaRequest{"a": {GUID: guid}})
	assert.Equal(t, StatusNoShepherd, res["a"].Status)

	f.nodes["s2"] = newNodeOn(t, f, "s2")
	res = f.svc.AddReplica(ctx, map[string]AddReplicaRequest{"a": {GUID: guid, Protocols: []string{"http"}}})
	require.Equal(t, StatusDone, res["a"].Status)
	assert.Equal(t, "http", res["a"].Protocol)

	services := f.get(t, guid).ReplicaServices()
	assert.Contains(t, services, "s1")
	assert.Contains(t, services, "s2")
}

func TestAddReplicaStatuses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"s1"})
	f.mkdir(t, "/dir")
	dir := f.resolve(t, "/dir")
	file := f.put(t, "/dir/f")

	res := f.svc.AddReplica(ctx, map[string]AddReplicaRequest{
		"missing": {GUID: "nope"},
		"dir":     {GUID: dir.GUID},
		"file":    {GUID: file, Protocols: []string{"gridftp"}},
	})
	assert.Equal(t, StatusNotFound, res["missing"].Status)
	assert.Equal(t, StatusIsNotAFile, res["dir"].Status)
	assert.Contains(t, res["file"].Status, "put error: ")
}

func TestSelectForReadFallsBackToNextCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"s1"})

	put := f.svc.PutFile(ctx, map[string]PutFileRequest{"a": {LN: "/a", Metadata: fileMD(11, 1)}})
	require.Equal(t, StatusDone, put["a"].Status)
	require.NoError(t, f.nodes["s1"].Upload(ctx, put["a"].TransferURL, []byte("hello world")))

	md := f.get(t, put["a"].GUID)
	md.Locations[catalog.Location{ServiceID: "gone", ReferenceID: "x"}] = catalog.ReplicaAlive

	for i := 0; i < 10; i++ {
		p := f.svc.selectForRead(ctx, md, nil)
		require.Equal(t, StatusDone, p.status)
		assert.Equal(t, "s1", serviceOf(t, f, p.handle.TransferURL))
	}
}

func newNodeOn(t *testing.T, f *fixture, id string) *shepherdmemory.Node {
	t.Helper()
	node := shepherdmemory.NewNode(id, f.lib, []string{"byteio", "http"})
	require.NoError(t, f.reg.RegisterShepherd(node))
	require.NoError(t, node.Reporter().Heartbeat(context.Background()))
	return node
}

func serviceOf(t *testing.T, f *fixture, transferURL string) string {
	t.Helper()
	for id, node := range f.nodes {
		if _, err := node.ReferenceFromURL(transferURL); err == nil {
			return id
		}
	}
	return ""
}
