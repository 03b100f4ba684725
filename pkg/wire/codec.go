package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/fxamacker/cbor/v2"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Content types understood by the transport.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
	ContentTypeXDR  = "application/xdr"
)

// ErrUnsupportedContentType is returned for a content type no codec
// handles.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Codec encodes and decodes documents in one format.
type Codec interface {
	ContentType() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

var (
	// JSON is the default codec.
	JSON Codec = jsonCodec{}

	// CBOR uses Core Deterministic Encoding: the same document always
	// produces the same bytes.
	CBOR Codec = newCBORCodec()

	// XDR encodes documents as RFC 4506 structures.
	XDR Codec = xdrCodec{}
)

// ForContentType returns the codec for a Content-Type or Accept header
// value. Parameters are ignored; an empty value selects JSON.
func ForContentType(value string) (Codec, error) {
	if value == "" || value == "*/*" {
		return JSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, value)
	}
	switch mediaType {
	case ContentTypeJSON:
		return JSON, nil
	case ContentTypeCBOR:
		return CBOR, nil
	case ContentTypeXDR:
		return XDR, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }

func (jsonCodec) Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func (jsonCodec) Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) ContentType() string { return ContentTypeCBOR }

func (c cborCodec) Encode(w io.Writer, v any) error {
	return c.enc.NewEncoder(w).Encode(v)
}

func (c cborCodec) Decode(r io.Reader, v any) error {
	if err := c.dec.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode cbor: %w", err)
	}
	return nil
}

type xdrCodec struct{}

func (xdrCodec) ContentType() string { return ContentTypeXDR }

func (xdrCodec) Encode(w io.Writer, v any) error {
	if _, err := xdr.Marshal(w, v); err != nil {
		return fmt.Errorf("encode xdr: %w", err)
	}
	return nil
}

func (xdrCodec) Decode(r io.Reader, v any) error {
	if _, err := xdr.Unmarshal(r, v); err != nil {
		return fmt.Errorf("decode xdr: %w", err)
	}
	return nil
}
