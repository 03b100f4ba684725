package bartender

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/bartender/pkg/catalog"
	catalogmemory "github.com/marmos91/bartender/pkg/catalog/memory"
	"github.com/marmos91/bartender/pkg/registry"
	shepherdmemory "github.com/marmos91/bartender/pkg/shepherd/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helloMD5 is the md5 of "hello world".
const helloMD5 = "5eb63bbbe01eeed093cb22bb8f5acdc3"

type fixture struct {
	lib   *catalogmemory.MemoryLibrarian
	reg   *registry.Registry
	nodes map[string]*shepherdmemory.Node
	svc   *Service
}

// newFixture builds a service over a memory librarian with one memory
// shepherd per id, all with a fresh heartbeat.
func newFixture(t *testing.T, ids []string, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		lib:   catalogmemory.NewMemoryLibrarian(),
		reg:   registry.NewRegistry(),
		nodes: make(map[string]*shepherdmemory.Node),
	}
	require.NoError(t, f.reg.SetLibrarian(f.lib))

	for _, id := range ids {
		node := shepherdmemory.NewNode(id, f.lib, []string{"byteio", "http"})
		require.NoError(t, f.reg.RegisterShepherd(node))
		require.NoError(t, node.Reporter().Heartbeat(context.Background()))
		f.nodes[id] = node
	}

	f.svc = New(f.lib, f.reg, Config{}, opts...)
	return f
}

func (f *fixture) heartbeat(t *testing.T, serviceID string, at time.Time) {
	t.Helper()
	res, err := f.lib.ModifyMetadata(context.Background(), map[string]catalog.Change{"hb": {
		GUID:     catalog.ShepherdRegistryGUID,
		Type:     catalog.ChangeSet,
		Section:  catalog.SectionHeartbeats,
		Property: serviceID,
		Value:    strconv.FormatInt(at.Unix(), 10),
	}})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusSet, res["hb"])
}

func (f *fixture) mkdir(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		res := f.svc.MakeCollection(context.Background(), map[string]MakeCollectionRequest{"d": {LN: name}})
		require.Equal(t, StatusDone, res["d"].Status, name)
	}
}

// put creates an empty file without replicas and returns its GUID.
func (f *fixture) put(t *testing.T, name string) string {
	t.Helper()
	res := f.svc.PutFile(context.Background(), map[string]PutFileRequest{"f": {LN: name, Metadata: fileMD(0, 0)}})
	require.Equal(t, StatusDone, res["f"].Status, name)
	return res["f"].GUID
}

func (f *fixture) resolve(t *testing.T, name string) catalog.Traversal {
	t.Helper()
	res, err := f.lib.TraverseLN(context.Background(), map[string]string{"x": name})
	require.NoError(t, err)
	return res["x"]
}

func (f *fixture) get(t *testing.T, guid string) *catalog.Metadata {
	t.Helper()
	res, err := f.lib.Get(context.Background(), []string{guid}, nil)
	require.NoError(t, err)
	return res[guid]
}

func fileMD(size int64, replicas int) *catalog.Metadata {
	return &catalog.Metadata{States: catalog.States{
		Size:           catalog.Int64(size),
		Checksum:       helloMD5,
		ChecksumType:   "md5",
		NeededReplicas: catalog.Int(replicas),
	}}
}

// ============================================================================
// Librarian test doubles
// ============================================================================

// faultyLibrarian wraps a Librarian to inject failures and observe calls.
type faultyLibrarian struct {
	catalog.Librarian

	// failChange makes ModifyMetadata answer status for matching changes
	// without applying them.
	failChange func(c catalog.Change) (status string, fail bool)

	// beforeTraverse runs before every TraverseLN.
	beforeTraverse func()

	mu      sync.Mutex
	removed map[string]int
}

func (l *faultyLibrarian) TraverseLN(ctx context.Context, names map[string]string) (map[string]catalog.Traversal, error) {
	if l.beforeTraverse != nil {
		l.beforeTraverse()
	}
	return l.Librarian.TraverseLN(ctx, names)
}

func (l *faultyLibrarian) ModifyMetadata(ctx context.Context, changes map[string]catalog.Change) (map[string]string, error) {
	if l.failChange == nil {
		return l.Librarian.ModifyMetadata(ctx, changes)
	}

	results := make(map[string]string, len(changes))
	passed := make(map[string]catalog.Change, len(changes))
	for id, c := range changes {
		if status, fail := l.failChange(c); fail {
			results[id] = status
			continue
		}
		passed[id] = c
	}
	applied, err := l.Librarian.ModifyMetadata(ctx, passed)
	if err != nil {
		return nil, err
	}
	for id, status := range applied {
		results[id] = status
	}
	return results, nil
}

func (l *faultyLibrarian) Remove(ctx context.Context, guids map[string]string) (map[string]string, error) {
	res, err := l.Librarian.Remove(ctx, guids)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed == nil {
		l.removed = make(map[string]int)
	}
	for id, status := range res {
		if status == catalog.StatusRemoved {
			l.removed[guids[id]]++
		}
	}
	return res, nil
}

func (l *faultyLibrarian) removals(guid string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removed[guid]
}

// ============================================================================
// Batch behaviour
// ============================================================================

func TestNewDefaults(t *testing.T) {
	svc := New(catalogmemory.NewMemoryLibrarian(), nil, Config{}, WithAuthorizer(nil), WithMetrics(nil))
	assert.IsType(t, PermitAll{}, svc.authorizer)
	assert.NotNil(t, svc.metrics)

	_, err := svc.shepherds.GetShepherd("s1")
	assert.Error(t, err)
}

// panickyAuthorizer panics on entries carrying a "boom" policy.
type panickyAuthorizer struct{}

func (panickyAuthorizer) Decide(_ context.Context, md *catalog.Metadata, _ Action) Decision {
	if _, ok := md.Policy["boom"]; ok {
		panic("boom")
	}
	return Permit
}

func TestPanicIsContainedToSubRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithAuthorizer(panickyAuthorizer{}))

	res := f.svc.MakeCollection(ctx, map[string]MakeCollectionRequest{
		"bad": {LN: "/bad", Metadata: &catalog.Metadata{Policy: map[string]string{"boom": "+read"}}},
		"ok":  {LN: "/ok"},
	})
	require.Equal(t, StatusDone, res["bad"].Status)
	require.Equal(t, StatusDone, res["ok"].Status)

	listed := f.svc.List(ctx, map[string]string{"bad": "/bad", "ok": "/ok"}, nil)
	assert.Equal(t, StatusInternalError, listed["bad"].Status)
	assert.NotNil(t, listed["bad"].Entries)
	assert.Equal(t, StatusFound, listed["ok"].Status)
}

func TestUpstreamFailureReportedPerSubRequest(t *testing.T) {
	ctx := context.Background()
	lib := catalogmemory.NewMemoryLibrarian()
	svc := New(lib, nil, Config{})
	require.NoError(t, lib.Close())

	res := svc.DelFile(ctx, map[string]string{"a": "/a", "b": "/b"})
	assert.Contains(t, res["a"], "failed: ")
	assert.Contains(t, res["b"], "failed: ")

	stat := svc.Stat(ctx, map[string]string{"a": "/a"})
	assert.True(t, stat["a"].Empty())
}

func TestUpstreamContextIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	upstream, done := upstreamContext(ctx, time.Minute)
	defer done()
	assert.NoError(t, upstream.Err())
	_, hasDeadline := upstream.Deadline()
	assert.True(t, hasDeadline)

	unbounded, done2 := upstreamContext(ctx, 0)
	defer done2()
	_, hasDeadline = unbounded.Deadline()
	assert.False(t, hasDeadline)
}
