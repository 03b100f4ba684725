// Package bartender implements the storage catalog orchestration service.
//
// Bartender builds a POSIX-like namespace with hardlinks on top of a flat
// Librarian catalog and places file replicas on Shepherd storage nodes.
// Every operation is batched: it takes sub-requests keyed by caller-chosen
// IDs and returns one result per ID. A failing sub-request never affects
// its siblings and nothing is ever returned as a Go error; every outcome
// is a status string from the operation's vocabulary.
//
// Multi-entry changes (create-then-link, move) are not atomic. They run as
// sagas with a compensating step where one exists; a move whose final
// unlink fails is reported, logged and counted, and left for an operator.
package bartender

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/metrics"
	"github.com/marmos91/bartender/pkg/shepherd"
)

// ShepherdLookup finds the Shepherd client for a service ID.
type ShepherdLookup interface {
	GetShepherd(serviceID string) (shepherd.Shepherd, error)
}

// Config holds the service tunables.
type Config struct {
	// LibrarianTimeout bounds every Librarian call. Zero means no bound.
	LibrarianTimeout time.Duration

	// ShepherdTimeout bounds every Shepherd call. Zero means no bound.
	ShepherdTimeout time.Duration

	// HeartbeatTimeout is the maximum heartbeat age of a Shepherd eligible
	// for new replicas. Zero only requires a positive heartbeat.
	HeartbeatTimeout time.Duration
}

// Service is the Bartender orchestration service. It is stateless between
// calls and safe for concurrent use.
type Service struct {
	librarian  catalog.Librarian
	shepherds  ShepherdLookup
	config     Config
	authorizer Authorizer
	metrics    metrics.BartenderMetrics
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithAuthorizer replaces the default PermitAll authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) { s.authorizer = a }
}

// WithMetrics enables service metrics.
func WithMetrics(m metrics.BartenderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps and heartbeat
// ageing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service. A nil shepherds lookup makes every placement
// fail with shepherd.ErrUnknownService.
func New(librarian catalog.Librarian, shepherds ShepherdLookup, config Config, opts ...Option) *Service {
	s := &Service{
		librarian:  librarian,
		shepherds:  shepherds,
		config:     config,
		authorizer: PermitAll{},
		metrics:    metrics.NoopBartenderMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shepherds == nil {
		s.shepherds = noShepherds{}
	}
	if s.authorizer == nil {
		s.authorizer = PermitAll{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopBartenderMetrics()
	}
	return s
}

type noShepherds struct{}

func (noShepherds) GetShepherd(serviceID string) (shepherd.Shepherd, error) {
	return nil, fmt.Errorf("%w: %q", shepherd.ErrUnknownService, serviceID)
}

func (s *Service) decide(ctx context.Context, md *catalog.Metadata, action Action) Decision {
	return s.authorizer.Decide(ctx, md, action)
}

// upstreamContext detaches an upstream call from the caller's cancellation
// and bounds it with timeout. An in-flight RPC always runs to completion
// or timeout.
func upstreamContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}

// ============================================================================
// Librarian calls
// ============================================================================

func (s *Service) callLibrarian(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := upstreamContext(ctx, s.config.LibrarianTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordUpstreamCall("librarian", method, time.Since(start), err)
	if err != nil {
		logger.Warn("Librarian %s failed: %v", method, err)
		return fmt.Errorf("librarian %s: %w", method, err)
	}
	return nil
}

func (s *Service) traverseLN(ctx context.Context, names map[string]string) (res map[string]catalog.Traversal, err error) {
	err = s.callLibrarian(ctx, "TraverseLN", func(ctx context.Context) error {
		res, err = s.librarian.TraverseLN(ctx, names)
		return err
	})
	return res, err
}

func (s *Service) getEntries(ctx context.Context, guids []string, filters []catalog.Filter) (res map[string]*catalog.Metadata, err error) {
	if len(guids) == 0 {
		return map[string]*catalog.Metadata{}, nil
	}
	err = s.callLibrarian(ctx, "Get", func(ctx context.Context) error {
		res, err = s.librarian.Get(ctx, guids, filters)
		return err
	})
	return res, err
}

func (s *Service) newEntries(ctx context.Context, entries map[string]*catalog.Metadata) (res map[string]catalog.NewResult, err error) {
	err = s.callLibrarian(ctx, "New", func(ctx context.Context) error {
		res, err = s.librarian.New(ctx, entries)
		return err
	})
	return res, err
}

func (s *Service) removeEntries(ctx context.Context, guids map[string]string) (res map[string]string, err error) {
	if len(guids) == 0 {
		return map[string]string{}, nil
	}
	err = s.callLibrarian(ctx, "Remove", func(ctx context.Context) error {
		res, err = s.librarian.Remove(ctx, guids)
		return err
	})
	return res, err
}

func (s *Service) modifyMetadata(ctx context.Context, changes map[string]catalog.Change) (res map[string]string, err error) {
	if len(changes) == 0 {
		return map[string]string{}, nil
	}
	err = s.callLibrarian(ctx, "ModifyMetadata", func(ctx context.Context) error {
		res, err = s.librarian.ModifyMetadata(ctx, changes)
		return err
	})
	return res, err
}

// ============================================================================
// Batch plumbing
// ============================================================================

// batch tracks one operation call for metrics.
type batch struct {
	s     *Service
	op    string
	size  int
	start time.Time
}

func (s *Service) begin(op string, size int) *batch {
	logger.Debug("%s: %d sub-requests", op, size)
	return &batch{s: s, op: op, size: size, start: time.Now()}
}

func (b *batch) result(status string) {
	b.s.metrics.RecordResult(b.op, status)
}

func (b *batch) end() {
	b.s.metrics.RecordBatch(b.op, b.size, time.Since(b.start))
}

// safely runs fn for one sub-request. A panic is logged with its stack and
// turned into the value built by onPanic so the rest of the batch proceeds.
func safely[T any](op, id string, onPanic func() T, fn func() T) (out T) {
	defer func() {
		if x := recover(); x != nil {
			logger.Error("%s: sub-request %q panicked: %v\n%s", op, id, x, debug.Stack())
			out = onPanic()
		}
	}()
	return fn()
}

func internalErrorStatus() string { return StatusInternalError }
