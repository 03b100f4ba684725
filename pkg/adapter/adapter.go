package adapter

import (
	"context"

	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/registry"
)

// Service is the set of batched operations an adapter exposes.
// *bartender.Service implements it.
type Service interface {
	Stat(ctx context.Context, names map[string]string) map[string]*catalog.Metadata
	List(ctx context.Context, names map[string]string, filters []catalog.Filter) map[string]bartender.ListResult
	MakeCollection(ctx context.Context, requests map[string]bartender.MakeCollectionRequest) map[string]bartender.CreateResult
	UnmakeCollection(ctx context.Context, names map[string]string) map[string]string
	Move(ctx context.Context, requests map[string]bartender.MoveRequest) map[string]string
	PutFile(ctx context.Context, requests map[string]bartender.PutFileRequest) map[string]bartender.PutFileResult
	GetFile(ctx context.Context, requests map[string]bartender.GetFileRequest) map[string]bartender.ReplicaResult
	AddReplica(ctx context.Context, requests map[string]bartender.AddReplicaRequest) map[string]bartender.ReplicaResult
	DelFile(ctx context.Context, names map[string]string) map[string]string
	Modify(ctx context.Context, requests map[string]bartender.ModifyRequest) map[string]string
}

// Adapter represents a transport that exposes the Bartender operations
// and can be managed by the server.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Injection: SetService() provides the service and the registry
//  3. Startup: Serve() starts the listener and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetService() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new requests
	//   - Wait for in-flight batches to complete (with timeout)
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetService injects the operations to expose and the registry used
	// for health reporting.
	//
	// Called exactly once before Serve().
	SetService(svc Service, reg *registry.Registry)

	// Stop initiates graceful shutdown. It must be idempotent and safe to
	// call concurrently with Serve().
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or the
	// configured port before Serve() binds it.
	Port() int
}
