package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/wire"
)

// Handler returns the HTTP handler serving every route.
func (a *HTTPAdapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /v1/{op}", a.handleOperation)

	if a.config.Gzip {
		return gziphandler.GzipHandler(mux)
	}
	return mux
}

// statusRecorder remembers the status code written.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *HTTPAdapter) handleOperation(w http.ResponseWriter, r *http.Request) {
	opName := r.PathValue("op")
	op, ok := operations[opName]
	if !ok {
		writeError(w, wire.JSON, http.StatusNotFound, fmt.Sprintf("unknown operation %q", opName))
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	a.metrics.RecordRequestStart(opName)
	defer func() {
		a.metrics.RecordRequestEnd(opName)
		a.metrics.RecordRequest(opName, rec.code, time.Since(start))
	}()

	reqCodec, err := wire.ForContentType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(rec, wire.JSON, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	respCodec := reqCodec
	if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" {
		if respCodec, err = wire.ForContentType(accept); err != nil {
			writeError(rec, wire.JSON, http.StatusNotAcceptable, err.Error())
			return
		}
	}

	var doc wire.RequestDoc
	body := http.MaxBytesReader(rec, r.Body, a.config.MaxBodyBytes)
	if err := reqCodec.Decode(body, &doc); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rec, respCodec, http.StatusRequestEntityTooLarge, "request document too large")
			return
		}
		writeError(rec, respCodec, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.checkDocument(&doc); err != nil {
		writeError(rec, respCodec, http.StatusBadRequest, err.Error())
		return
	}

	identity := r.Header.Get(IdentityHeader)
	if !a.limiter.Allow(identity, len(doc.SubRequests)) {
		a.metrics.RecordThrottled()
		rec.Header().Set("Retry-After", "1")
		writeError(rec, respCodec, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ctx := bartender.WithIdentity(r.Context(), identity)
	results := op(ctx, a.service, &doc)
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	logger.Debug("HTTP %s: %d sub-requests from %q in %v", opName, len(doc.SubRequests), identity, time.Since(start))
	writeDoc(rec, respCodec, http.StatusOK, &wire.ResponseDoc{Results: results})
}

// checkDocument rejects documents the service cannot answer per ID.
func (a *HTTPAdapter) checkDocument(doc *wire.RequestDoc) error {
	if len(doc.SubRequests) > a.config.MaxBatchSize {
		return fmt.Errorf("batch of %d sub-requests exceeds the limit of %d", len(doc.SubRequests), a.config.MaxBatchSize)
	}
	seen := make(map[string]struct{}, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		if sr.ID == "" {
			return errors.New("sub-request without id")
		}
		if _, dup := seen[sr.ID]; dup {
			return fmt.Errorf("duplicate sub-request id %q", sr.ID)
		}
		seen[sr.ID] = struct{}{}
	}
	return nil
}

type healthDoc struct {
	Status    string   `json:"status"`
	Shepherds []string `json:"shepherds"`
	Error     string   `json:"error,omitempty"`
}

func (a *HTTPAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	doc := healthDoc{Status: "ok", Shepherds: []string{}}
	code := http.StatusOK

	if a.registry != nil {
		doc.Shepherds = a.registry.ListShepherds()
		if lib := a.registry.Librarian(); lib != nil {
			if err := lib.Healthcheck(r.Context()); err != nil {
				doc.Status = "unhealthy"
				doc.Error = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
	}
	writeDoc(w, wire.JSON, code, &doc)
}

func writeDoc(w http.ResponseWriter, codec wire.Codec, code int, v any) {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, v); err != nil {
		logger.Error("Failed to encode %s response: %v", codec.ContentType(), err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, codec wire.Codec, code int, message string) {
	writeDoc(w, codec, code, &wire.ErrorDoc{Error: message})
}
