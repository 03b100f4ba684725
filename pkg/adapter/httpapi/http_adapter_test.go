package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/catalog"
	catalogmemory "github.com/marmos91/bartender/pkg/catalog/memory"
	"github.com/marmos91/bartender/pkg/registry"
	shepherdmemory "github.com/marmos91/bartender/pkg/shepherd/memory"
	"github.com/marmos91/bartender/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu        sync.Mutex
	codes     map[string][]int
	throttled int
}

func (m *recordingMetrics) RecordRequest(op string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string][]int)
	}
	m.codes[op] = append(m.codes[op], code)
}

func (m *recordingMetrics) RecordRequestStart(string) {}
func (m *recordingMetrics) RecordRequestEnd(string)   {}

func (m *recordingMetrics) RecordThrottled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled++
}

type testEnv struct {
	lib     *catalogmemory.MemoryLibrarian
	reg     *registry.Registry
	adapter *HTTPAdapter
	metrics *recordingMetrics
	server  *httptest.Server
}

func newTestEnv(t *testing.T, config HTTPConfig, opts ...bartender.Option) *testEnv {
	t.Helper()

	env := &testEnv{
		lib:     catalogmemory.NewMemoryLibrarian(),
		reg:     registry.NewRegistry(),
		metrics: &recordingMetrics{},
	}
	require.NoError(t, env.reg.SetLibrarian(env.lib))

	node := shepherdmemory.NewNode("shepherd-1", env.lib, []string{"http"})
	require.NoError(t, env.reg.RegisterShepherd(node))
	require.NoError(t, node.Reporter().Heartbeat(context.Background()))

	svc := bartender.New(env.lib, env.reg, bartender.Config{}, opts...)
	env.adapter = New(config, env.metrics)
	env.adapter.SetService(svc, env.reg)
	env.server = httptest.NewServer(env.adapter.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) post(t *testing.T, op string, codec wire.Codec, doc *wire.RequestDoc, header http.Header) (*http.Response, []byte) {
	t.Helper()

	var body bytes.Buffer
	require.NoError(t, codec.Encode(&body, doc))

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/v1/"+op, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", codec.ContentType())
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e *testEnv) call(t *testing.T, op string, codec wire.Codec, doc *wire.RequestDoc) wire.ResponseDoc {
	t.Helper()
	resp, body := e.post(t, op, codec, doc, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, codec.ContentType(), resp.Header.Get("Content-Type"))

	var out wire.ResponseDoc
	require.NoError(t, codec.Decode(bytes.NewReader(body), &out))
	return out
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var doc wire.ErrorDoc
	require.NoError(t, wire.JSON.Decode(bytes.NewReader(body), &doc))
	return doc.Error
}

func fileTriples(replicas string) []wire.Triple {
	return []wire.Triple{
		{Section: catalog.SectionStates, Property: "size", Value: "11"},
		{Section: catalog.SectionStates, Property: "checksum", Value: "5eb63bbbe01eeed093cb22bb8f5acdc3"},
		{Section: catalog.SectionStates, Property: "checksumType", Value: "md5"},
		{Section: catalog.SectionStates, Property: "neededReplicas", Value: replicas},
	}
}

func TestOperationsOverEveryCodec(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.CBOR, wire.XDR} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			env := newTestEnv(t, HTTPConfig{})

			made := env.call(t, wire.OpMakeCollection, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{
				{ID: "b", LN: "/docs"},
				{ID: "a", LN: "/missing/docs"},
			}})
			require.Len(t, made.Results, 2)
			assert.Equal(t, "a", made.Results[0].ID, "results are sorted by ID")
			assert.Equal(t, bartender.StatusParentDoesNotExist, made.Results[0].Status)
			assert.Equal(t, bartender.StatusDone, made.Results[1].Status)
			assert.NotEmpty(t, made.Results[1].GUID)

			put := env.call(t, wire.OpPutFile, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{
				{ID: "f", LN: "/docs/hello", Metadata: fileTriples("1"), Protocols: []string{"ftp", "http"}},
			}})
			res, ok := put.Result("f")
			require.True(t, ok)
			assert.Equal(t, bartender.StatusDone, res.Status)
			assert.Equal(t, "http", res.Protocol)
			assert.True(t, strings.HasPrefix(res.TransferURL, shepherdmemory.Scheme+"://shepherd-1/"), res.TransferURL)

			listed := env.call(t, wire.OpList, codec, &wire.RequestDoc{
				SubRequests: []wire.SubRequest{{ID: "l", LN: "/docs"}},
				Filters:     []wire.Filter{{Section: catalog.SectionEntry}},
			})
			res, ok = listed.Result("l")
			require.True(t, ok)
			assert.Equal(t, bartender.StatusFound, res.Status)
			require.Len(t, res.Entries, 1)
			assert.Equal(t, "hello", res.Entries[0].Name)
			assert.Contains(t, res.Entries[0].Metadata, wire.Triple{Section: catalog.SectionEntry, Property: "type", Value: string(catalog.EntryTypeFile)})

			modified := env.call(t, wire.OpModify, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{
				{ID: "m", LN: "/docs/hello", ChangeType: string(catalog.ChangeSet), Section: catalog.SectionStates, Property: "neededReplicas", Value: "2"},
			}})
			assert.Equal(t, catalog.StatusSet, modified.Results[0].Status)

			moved := env.call(t, wire.OpMove, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{
				{ID: "mv", LN: "/docs/hello", TargetLN: "/hello"},
			}})
			assert.Equal(t, bartender.StatusMoved, moved.Results[0].Status)

			stat := env.call(t, wire.OpStat, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "s", LN: "/hello"}}})
			assert.Contains(t, stat.Results[0].Metadata, wire.Triple{Section: catalog.SectionStates, Property: "neededReplicas", Value: "2"})

			deleted := env.call(t, wire.OpDelFile, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "d", LN: "/hello"}}})
			assert.Equal(t, bartender.StatusDeleted, deleted.Results[0].Status)

			unmade := env.call(t, wire.OpUnmakeCollection, codec, &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "u", LN: "/docs"}}})
			assert.Equal(t, bartender.StatusRemoved, unmade.Results[0].Status)
		})
	}
}

func TestReplicaOperations(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{})

	put := env.call(t, wire.OpPutFile, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
		{ID: "f", LN: "/file", Metadata: fileTriples("0")},
	}})
	require.Equal(t, bartender.StatusDone, put.Results[0].Status)
	guid := put.Results[0].GUID

	added := env.call(t, wire.OpAddReplica, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
		{ID: "r", GUID: guid, Protocols: []string{"http"}},
		{ID: "x", GUID: "no-such-guid", Protocols: []string{"http"}},
	}})
	r, _ := added.Result("r")
	assert.Equal(t, bartender.StatusDone, r.Status)
	assert.NotEmpty(t, r.TransferURL)
	x, _ := added.Result("x")
	assert.Equal(t, bartender.StatusNotFound, x.Status)

	got := env.call(t, wire.OpGetFile, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
		{ID: "g", LN: "/file", Protocols: []string{"http"}},
	}})
	assert.Equal(t, bartender.StatusNoValidReplica, got.Results[0].Status, "the replica was never uploaded")
}

func TestInvalidMetadataRejectedPerSubRequest(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{})

	res := env.call(t, wire.OpPutFile, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
		{ID: "bad", LN: "/bad", Metadata: []wire.Triple{{Section: catalog.SectionStates, Property: "size", Value: "huge"}}},
		{ID: "good", LN: "/good", Metadata: fileTriples("0")},
	}})

	bad, _ := res.Result("bad")
	assert.True(t, strings.HasPrefix(bad.Status, "failed: invalid metadata"), bad.Status)
	good, _ := res.Result("good")
	assert.Equal(t, bartender.StatusDone, good.Status)
}

func TestRequestRejections(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{MaxBatchSize: 2, MaxBodyBytes: 512})
	one := &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "a", LN: "/"}}}

	t.Run("UnknownOperation", func(t *testing.T) {
		resp, body := env.post(t, "format", wire.JSON, one, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, decodeError(t, body), "format")
	})

	t.Run("UnsupportedContentType", func(t *testing.T) {
		resp, _ := env.post(t, wire.OpStat, wire.JSON, one, http.Header{"Content-Type": {"text/plain"}})
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("UnacceptableResponseType", func(t *testing.T) {
		resp, _ := env.post(t, wire.OpStat, wire.JSON, one, http.Header{"Accept": {"text/html"}})
		assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/stat", strings.NewReader(`{"subRequests": [`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", wire.ContentTypeJSON)
		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("DuplicateIDs", func(t *testing.T) {
		resp, body := env.post(t, wire.OpStat, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
			{ID: "a", LN: "/"}, {ID: "a", LN: "/x"},
		}}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, body), "duplicate")
	})

	t.Run("MissingID", func(t *testing.T) {
		resp, _ := env.post(t, wire.OpStat, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{{LN: "/"}}}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("BatchTooLarge", func(t *testing.T) {
		resp, body := env.post(t, wire.OpStat, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
			{ID: "a", LN: "/"}, {ID: "b", LN: "/"}, {ID: "c", LN: "/"},
		}}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, body), "exceeds")
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		resp, _ := env.post(t, wire.OpStat, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{
			{ID: "a", LN: "/" + strings.Repeat("x", 1024)},
		}}, nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("WrongMethod", func(t *testing.T) {
		resp, err := env.server.Client().Get(env.server.URL + "/v1/stat")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestRateLimitPerIdentity(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 3}})

	batch := &wire.RequestDoc{SubRequests: []wire.SubRequest{
		{ID: "a", LN: "/"}, {ID: "b", LN: "/"}, {ID: "c", LN: "/"},
	}}
	alice := http.Header{IdentityHeader: {"alice"}}

	resp, _ := env.post(t, wire.OpStat, wire.JSON, batch, alice)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.post(t, wire.OpStat, wire.JSON, batch, alice)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Contains(t, decodeError(t, body), "rate limit")

	resp, _ = env.post(t, wire.OpStat, wire.JSON, batch, http.Header{IdentityHeader: {"bob"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "bob has a separate bucket")

	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	assert.Equal(t, 1, env.metrics.throttled)
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}, env.metrics.codes[wire.OpStat])
}

func TestIdentityReachesAuthorizer(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{}, bartender.WithAuthorizer(bartender.PolicyAuthorizer{}))

	alice := http.Header{IdentityHeader: {"alice"}}
	bob := http.Header{IdentityHeader: {"bob"}}

	resp, body := env.post(t, wire.OpMakeCollection, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{{
		ID: "d", LN: "/private",
		Metadata: []wire.Triple{{Section: catalog.SectionPolicy, Property: "alice", Value: "+read +addEntry"}},
	}}}, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var made wire.ResponseDoc
	require.NoError(t, wire.JSON.Decode(bytes.NewReader(body), &made))
	require.Equal(t, bartender.StatusDone, made.Results[0].Status)

	list := &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "l", LN: "/private"}}}

	_, body = env.post(t, wire.OpList, wire.JSON, list, bob)
	var listed wire.ResponseDoc
	require.NoError(t, wire.JSON.Decode(bytes.NewReader(body), &listed))
	assert.Equal(t, bartender.StatusDenied, listed.Results[0].Status)

	_, body = env.post(t, wire.OpList, wire.JSON, list, alice)
	require.NoError(t, wire.JSON.Decode(bytes.NewReader(body), &listed))
	assert.Equal(t, bartender.StatusFound, listed.Results[0].Status)
}

func TestResponseCodecFollowsAccept(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{})

	resp, body := env.post(t, wire.OpStat, wire.JSON, &wire.RequestDoc{SubRequests: []wire.SubRequest{{ID: "s", LN: "/"}}},
		http.Header{"Accept": {wire.ContentTypeCBOR}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, wire.ContentTypeCBOR, resp.Header.Get("Content-Type"))

	var out wire.ResponseDoc
	require.NoError(t, wire.CBOR.Decode(bytes.NewReader(body), &out))
	assert.Contains(t, out.Results[0].Metadata, wire.Triple{Section: catalog.SectionEntry, Property: "type", Value: string(catalog.EntryTypeCollection)})
}

func TestGzipResponses(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{Gzip: true})

	doc := &wire.RequestDoc{}
	for i := 0; i < 64; i++ {
		doc.SubRequests = append(doc.SubRequests, wire.SubRequest{ID: fmt.Sprintf("d-%02d", i), LN: fmt.Sprintf("/dir-%02d", i)})
	}
	resp, body := env.post(t, wire.OpMakeCollection, wire.JSON, doc, http.Header{"Accept-Encoding": {"gzip"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	var out wire.ResponseDoc
	require.NoError(t, wire.JSON.Decode(zr, &out))
	require.Len(t, out.Results, 64)
	for _, r := range out.Results {
		assert.Equal(t, bartender.StatusDone, r.Status, r.ID)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, HTTPConfig{})

	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	var doc healthDoc
	require.NoError(t, wire.JSON.Decode(resp.Body, &doc))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", doc.Status)
	assert.Equal(t, []string{"shepherd-1"}, doc.Shepherds)

	require.NoError(t, env.lib.Close())

	resp, err = env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, wire.JSON.Decode(resp.Body, &doc))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", doc.Status)
	assert.NotEmpty(t, doc.Error)
}

func TestServeAndStop(t *testing.T) {
	lib := catalogmemory.NewMemoryLibrarian()
	reg := registry.NewRegistry()
	require.NoError(t, reg.SetLibrarian(lib))

	a := New(HTTPConfig{Port: -1, ShutdownTimeout: time.Second}, nil)
	a.SetService(bartender.New(lib, reg, bartender.Config{}), reg)
	assert.Equal(t, "HTTP", a.Protocol())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.Port() > 0 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", a.Port()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.NoError(t, a.Stop(context.Background()), "Stop is idempotent")
}

func TestServeRequiresService(t *testing.T) {
	a := New(HTTPConfig{Port: -1}, nil)
	assert.Error(t, a.Serve(context.Background()))
}

func TestStopBeforeServe(t *testing.T) {
	lib := catalogmemory.NewMemoryLibrarian()
	reg := registry.NewRegistry()
	a := New(HTTPConfig{Port: -1}, nil)
	a.SetService(bartender.New(lib, reg, bartender.Config{}), reg)

	require.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Serve(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { New(HTTPConfig{Port: 70000}, nil) })
}
