package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() RequestDoc {
	return RequestDoc{
		SubRequests: []SubRequest{
			{
				ID: "a",
				LN: "/dir/a",
				Metadata: []Triple{
					{Section: "states", Property: "size", Value: "11"},
					{Section: "states", Property: "checksumType", Value: "md5"},
				},
				Protocols: []string{"byteio", "http"},
			},
			{ID: "m", LN: "/dir/a", TargetLN: "/dir/b", PreserveOriginal: true, Metadata: []Triple{}, Protocols: []string{}},
		},
		Filters: []Filter{{Section: "entry", Property: "type"}},
	}
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR, XDR} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			want := sampleRequest()

			var buf bytes.Buffer
			require.NoError(t, codec.Encode(&buf, &want))

			var got RequestDoc
			require.NoError(t, codec.Decode(&buf, &got))

			require.Len(t, got.SubRequests, 2)
			assert.Equal(t, want.SubRequests[0], got.SubRequests[0])
			assert.Equal(t, "/dir/b", got.SubRequests[1].TargetLN)
			assert.True(t, got.SubRequests[1].PreserveOriginal)
			assert.Equal(t, want.Filters, got.Filters)
		})
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	doc := ResponseDoc{Results: []SubResult{{ID: "x", Status: "done", GUID: "g"}}}

	var first, second bytes.Buffer
	require.NoError(t, CBOR.Encode(&first, &doc))
	require.NoError(t, CBOR.Encode(&second, &doc))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestForContentType(t *testing.T) {
	tests := []struct {
		value string
		want  Codec
	}{
		{"", JSON},
		{"*/*", JSON},
		{"application/json; charset=utf-8", JSON},
		{"application/cbor", CBOR},
		{"application/xdr", XDR},
	}
	for _, tt := range tests {
		got, err := ForContentType(tt.value)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want.ContentType(), got.ContentType(), tt.value)
	}

	_, err := ForContentType("text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
	_, err = ForContentType(";;")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestJSONRejectsUnknownFields(t *testing.T) {
	var doc RequestDoc
	err := JSON.Decode(bytes.NewBufferString(`{"subRequests":[],"bogus":1}`), &doc)
	assert.Error(t, err)
}

func TestResponseResult(t *testing.T) {
	doc := ResponseDoc{Results: []SubResult{{ID: "a", Status: "done"}}}
	res, ok := doc.Result("a")
	assert.True(t, ok)
	assert.Equal(t, "done", res.Status)
	_, ok = doc.Result("b")
	assert.False(t, ok)
}
