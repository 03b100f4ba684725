// Package client is a Go client for the Bartender HTTP transport.
//
// Every method sends one batch and returns one result per sub-request ID,
// mirroring the service API. A non-nil error means the batch as a whole
// was not answered (transport failure, rejected document, throttling);
// per-item failures are reported through the result statuses.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/marmos91/bartender/pkg/adapter/httpapi"
	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/wire"
)

// StatusError is returned when the server rejects a whole batch.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bartender: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsThrottled reports whether err is a rate limit rejection.
func IsThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// Client talks to one Bartender endpoint. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	codec    wire.Codec
	identity string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCodec selects the document encoding (JSON by default).
func WithCodec(codec wire.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithIdentity sets the caller identity sent with every batch.
func WithIdentity(identity string) Option {
	return func(c *Client) { c.identity = identity }
}

// New creates a client for the server at baseURL (e.g. http://host:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		codec:   wire.JSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a raw request document for op.
func (c *Client) Do(ctx context.Context, op string, doc *wire.RequestDoc) (*wire.ResponseDoc, error) {
	var body bytes.Buffer
	if err := c.codec.Encode(&body, doc); err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/"+op, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", c.codec.ContentType())
	req.Header.Set("Accept", c.codec.ContentType())
	if c.identity != "" {
		req.Header.Set(httpapi.IdentityHeader, c.identity)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	codec, codecErr := wire.ForContentType(resp.Header.Get("Content-Type"))

	if resp.StatusCode != http.StatusOK {
		var doc wire.ErrorDoc
		if codecErr != nil || codec.Decode(bytes.NewReader(raw), &doc) != nil {
			doc.Error = strings.TrimSpace(string(raw))
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: doc.Error}
	}
	if codecErr != nil {
		return nil, fmt.Errorf("%s: %w", op, codecErr)
	}

	var out wire.ResponseDoc
	if err := codec.Decode(bytes.NewReader(raw), &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return &out, nil
}

// document builds a request document with sub-requests sorted by ID.
func document[T any](requests map[string]T, build func(id string, req T) wire.SubRequest) *wire.RequestDoc {
	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := &wire.RequestDoc{SubRequests: make([]wire.SubRequest, 0, len(ids))}
	for _, id := range ids {
		doc.SubRequests = append(doc.SubRequests, build(id, requests[id]))
	}
	return doc
}

func byName(id, name string) wire.SubRequest {
	return wire.SubRequest{ID: id, LN: name}
}

func (c *Client) statuses(ctx context.Context, op string, doc *wire.RequestDoc) (map[string]string, error) {
	resp, err := c.Do(ctx, op, doc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		out[r.ID] = r.Status
	}
	return out, nil
}

// Stat returns the metadata of each name.
func (c *Client) Stat(ctx context.Context, names map[string]string) (map[string]*catalog.Metadata, error) {
	resp, err := c.Do(ctx, wire.OpStat, document(names, byName))
	if err != nil {
		return nil, err
	}
	out := make(map[string]*catalog.Metadata, len(resp.Results))
	for _, r := range resp.Results {
		md, err := catalog.FromTriples(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", r.ID, err)
		}
		out[r.ID] = md
	}
	return out, nil
}

// List returns the children of each collection.
func (c *Client) List(ctx context.Context, names map[string]string, filters []catalog.Filter) (map[string]bartender.ListResult, error) {
	doc := document(names, byName)
	for _, f := range filters {
		doc.Filters = append(doc.Filters, wire.Filter{Section: f.Section, Property: f.Property})
	}

	resp, err := c.Do(ctx, wire.OpList, doc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bartender.ListResult, len(resp.Results))
	for _, r := range resp.Results {
		entries := make(map[string]bartender.ListEntry, len(r.Entries))
		for _, e := range r.Entries {
			md, err := catalog.FromTriples(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("list %q entry %q: %w", r.ID, e.Name, err)
			}
			entries[e.Name] = bartender.ListEntry{GUID: e.GUID, Metadata: md}
		}
		out[r.ID] = bartender.ListResult{Status: r.Status, Entries: entries}
	}
	return out, nil
}

// MakeCollection creates collections.
func (c *Client) MakeCollection(ctx context.Context, requests map[string]bartender.MakeCollectionRequest) (map[string]bartender.CreateResult, error) {
	resp, err := c.Do(ctx, wire.OpMakeCollection, document(requests, func(id string, req bartender.MakeCollectionRequest) wire.SubRequest {
		return wire.SubRequest{ID: id, LN: req.LN, Metadata: req.Metadata.Triples()}
	}))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bartender.CreateResult, len(resp.Results))
	for _, r := range resp.Results {
		out[r.ID] = bartender.CreateResult{Status: r.Status, GUID: r.GUID}
	}
	return out, nil
}

// UnmakeCollection removes empty collections.
func (c *Client) UnmakeCollection(ctx context.Context, names map[string]string) (map[string]string, error) {
	return c.statuses(ctx, wire.OpUnmakeCollection, document(names, byName))
}

// Move renames entries, or hardlinks them when PreserveOriginal is set.
func (c *Client) Move(ctx context.Context, requests map[string]bartender.MoveRequest) (map[string]string, error) {
	return c.statuses(ctx, wire.OpMove, document(requests, func(id string, req bartender.MoveRequest) wire.SubRequest {
		return wire.SubRequest{ID: id, LN: req.SourceLN, TargetLN: req.TargetLN, PreserveOriginal: req.PreserveOriginal}
	}))
}

// PutFile creates file entries and returns upload URLs.
func (c *Client) PutFile(ctx context.Context, requests map[string]bartender.PutFileRequest) (map[string]bartender.PutFileResult, error) {
	resp, err := c.Do(ctx, wire.OpPutFile, document(requests, func(id string, req bartender.PutFileRequest) wire.SubRequest {
		return wire.SubRequest{ID: id, LN: req.LN, Metadata: req.Metadata.Triples(), Protocols: req.Protocols}
	}))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bartender.PutFileResult, len(resp.Results))
	for _, r := range resp.Results {
		out[r.ID] = bartender.PutFileResult{Status: r.Status, GUID: r.GUID, TransferURL: r.TransferURL, Protocol: r.Protocol}
	}
	return out, nil
}

func replicaResults(resp *wire.ResponseDoc) map[string]bartender.ReplicaResult {
	out := make(map[string]bartender.ReplicaResult, len(resp.Results))
	for _, r := range resp.Results {
		out[r.ID] = bartender.ReplicaResult{Status: r.Status, TransferURL: r.TransferURL, Protocol: r.Protocol}
	}
	return out
}

// GetFile returns download URLs.
func (c *Client) GetFile(ctx context.Context, requests map[string]bartender.GetFileRequest) (map[string]bartender.ReplicaResult, error) {
	resp, err := c.Do(ctx, wire.OpGetFile, document(requests, func(id string, req bartender.GetFileRequest) wire.SubRequest {
		return wire.SubRequest{ID: id, LN: req.LN, Protocols: req.Protocols}
	}))
	if err != nil {
		return nil, err
	}
	return replicaResults(resp), nil
}

// AddReplica returns upload URLs for extra replicas.
func (c *Client) AddReplica(ctx context.Context, requests map[string]bartender.AddReplicaRequest) (map[string]bartender.ReplicaResult, error) {
	resp, err := c.Do(ctx, wire.OpAddReplica, document(requests, func(id string, req bartender.AddReplicaRequest) wire.SubRequest {
		return wire.SubRequest{ID: id, GUID: req.GUID, Protocols: req.Protocols}
	}))
	if err != nil {
		return nil, err
	}
	return replicaResults(resp), nil
}

// DelFile unlinks files.
func (c *Client) DelFile(ctx context.Context, names map[string]string) (map[string]string, error) {
	return c.statuses(ctx, wire.OpDelFile, document(names, byName))
}

// Modify changes one metadata property per sub-request.
func (c *Client) Modify(ctx context.Context, requests map[string]bartender.ModifyRequest) (map[string]string, error) {
	return c.statuses(ctx, wire.OpModify, document(requests, func(id string, req bartender.ModifyRequest) wire.SubRequest {
		return wire.SubRequest{
			ID:         id,
			LN:         req.LN,
			ChangeType: string(req.ChangeType),
			Section:    req.Section,
			Property:   req.Property,
			Value:      req.Value,
		}
	}))
}
