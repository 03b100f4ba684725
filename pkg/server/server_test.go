package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/bartender/pkg/adapter"
	"github.com/marmos91/bartender/pkg/bartender"
	catalogmemory "github.com/marmos91/bartender/pkg/catalog/memory"
	"github.com/marmos91/bartender/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until stopped or failed.
type fakeAdapter struct {
	protocol string
	port     int
	failWith error

	mu       sync.Mutex
	service  adapter.Service
	stopped  chan struct{}
	stopOnce sync.Once
	order    *[]string
}

func newFakeAdapter(protocol string, port int, order *[]string) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stopped: make(chan struct{}), order: order}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopped:
		return nil
	}
}

func (f *fakeAdapter) SetService(svc adapter.Service, _ *registry.Registry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.service = svc
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stopOnce.Do(func() {
		if f.order != nil {
			*f.order = append(*f.order, f.protocol)
		}
		close(f.stopped)
	})
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func newServer(t *testing.T) *BartenderServer {
	t.Helper()
	lib := catalogmemory.NewMemoryLibrarian()
	reg := registry.NewRegistry()
	require.NoError(t, reg.SetLibrarian(lib))
	return New(bartender.New(lib, reg, bartender.Config{}), reg)
}

func TestAddAdapter(t *testing.T) {
	srv := newServer(t)

	a := newFakeAdapter("HTTP", 8080, nil)
	require.NoError(t, srv.AddAdapter(a))
	assert.NotNil(t, a.service, "service is injected")

	assert.Error(t, srv.AddAdapter(newFakeAdapter("HTTP", 9090, nil)), "duplicate protocol")
	assert.Error(t, srv.AddAdapter(newFakeAdapter("GRPC", 8080, nil)), "duplicate port")
	assert.NoError(t, srv.AddAdapter(newFakeAdapter("GRPC", 9090, nil)))
	assert.Len(t, srv.Adapters(), 2)

	assert.Panics(t, func() { _ = srv.AddAdapter(nil) })
}

func TestServeRequiresAdapters(t *testing.T) {
	srv := newServer(t)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeStopsInReverseOrderOnCancel(t *testing.T) {
	srv := newServer(t)
	var order []string
	require.NoError(t, srv.AddAdapter(newFakeAdapter("A", 1, &order)))
	require.NoError(t, srv.AddAdapter(newFakeAdapter("B", 2, &order)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, []string{"B", "A"}, order)

	assert.Error(t, srv.Serve(context.Background()), "Serve runs once")
	assert.Panics(t, func() { _ = srv.AddAdapter(newFakeAdapter("C", 3, nil)) })
}

func TestAdapterFailureStopsTheOthers(t *testing.T) {
	srv := newServer(t)
	healthy := newFakeAdapter("A", 1, nil)
	broken := newFakeAdapter("B", 2, nil)
	broken.failWith = errors.New("bind: address in use")
	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")

	select {
	case <-healthy.stopped:
	default:
		t.Fatal("healthy adapter was not stopped")
	}
}
