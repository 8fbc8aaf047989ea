package wire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func multipartBody(t *testing.T, fields map[string]string) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("upload", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file contents"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType(), buf.Bytes()
}

func TestEncodeBodyKinds(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        io.Reader
		known       bool
		want        Body
	}{
		{
			name:        "json",
			contentType: "application/json; charset=utf-8",
			body:        strings.NewReader(`{"a":1,"b":[true,null]}`),
			known:       true,
			want:        JSON{Value: map[string]any{"a": jsonNumber("1"), "b": []any{true, nil}}},
		},
		{
			name:        "vendor json",
			contentType: "application/problem+json",
			body:        strings.NewReader(`"x"`),
			known:       true,
			want:        JSON{Value: "x"},
		},
		{
			name:        "invalid json falls back to binary",
			contentType: "application/json",
			body:        strings.NewReader(`{not json`),
			known:       true,
			want:        Binary{Data: []byte(`{not json`)},
		},
		{
			name:        "text",
			contentType: "text/plain",
			body:        strings.NewReader("héllo"),
			known:       true,
			want:        Text{Value: "héllo"},
		},
		{
			name:        "non-utf8 text falls back to binary",
			contentType: "text/plain",
			body:        bytes.NewReader([]byte{0xff, 0xfe}),
			known:       true,
			want:        Binary{Data: []byte{0xff, 0xfe}},
		},
		{
			name:        "other content type with known length",
			contentType: "image/png",
			body:        bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}),
			known:       true,
			want:        Binary{Data: []byte{0x89, 'P', 'N', 'G'}},
		},
		{
			name:        "unparsable content type",
			contentType: "text/;;",
			body:        strings.NewReader("abc"),
			known:       true,
			want:        Binary{Data: []byte("abc")},
		},
		{
			name:        "unknown length drains into stream",
			contentType: "application/octet-stream",
			body:        io.MultiReader(strings.NewReader("ab"), strings.NewReader("cd")),
			known:       false,
			want:        Stream{Chunks: [][]byte{[]byte("ab"), []byte("cd")}},
		},
		{
			name:        "no body",
			contentType: "text/plain",
			body:        http.NoBody,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodeBody(tt.contentType, tt.body, tt.known)
			require.NoError(t, err)
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestEncodeBodyFormData(t *testing.T) {
	contentType, raw := multipartBody(t, map[string]string{"name": "ada", "lang": "go"})

	body, err := EncodeBody(contentType, bytes.NewReader(raw), true)
	require.NoError(t, err)

	assert.Equal(t, FormData{Value: map[string]string{
		"name":   "ada",
		"lang":   "go",
		"upload": "file contents",
	}}, body)
}

func TestEncodeBodyUnsupported(t *testing.T) {
	_, err := EncodeBody("application/octet-stream", failingReader{}, true)
	assert.ErrorIs(t, err, types.ErrUnsupportedBody)

	_, err = EncodeBody("application/octet-stream", failingReader{}, false)
	assert.ErrorIs(t, err, types.ErrUnsupportedBody)
}

func roundTripRequest(t *testing.T, req *http.Request) *http.Request {
	t.Helper()

	sr, err := EncodeRequest(req)
	require.NoError(t, err)

	data, err := Marshal(sr)
	require.NoError(t, err)

	var back SerializedRequest
	require.NoError(t, Unmarshal(data, &back))

	out, err := DecodeRequest(context.Background(), &back)
	require.NoError(t, err)
	return out
}

func TestRequestRoundTrip(t *testing.T) {
	t.Run("binary", func(t *testing.T) {
		data := randomBytes(256<<10, 3)
		req, err := http.NewRequest(http.MethodPut, "https://api.example.com/blob?x=1", bytes.NewReader(data))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Custom", "yes")

		out := roundTripRequest(t, req)
		assert.Equal(t, http.MethodPut, out.Method)
		assert.Equal(t, "https://api.example.com/blob?x=1", out.URL.String())
		assert.Equal(t, "yes", out.Header.Get("X-Custom"))
		assert.Equal(t, int64(len(data)), out.ContentLength)

		got, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/items", strings.NewReader(`{"id": 12345678901234567890, "tags": ["a"]}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		out := roundTripRequest(t, req)
		got, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id": 12345678901234567890, "tags": ["a"]}`, string(got))
	})

	t.Run("text", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/echo", strings.NewReader("plain words"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")

		out := roundTripRequest(t, req)
		got, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		assert.Equal(t, "plain words", string(got))
	})

	t.Run("form-data", func(t *testing.T) {
		contentType, raw := multipartBody(t, map[string]string{"name": "ada"})
		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/form", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)

		out := roundTripRequest(t, req)
		assert.NotEqual(t, contentType, out.Header.Get("Content-Type"), "a fresh boundary is generated")
		require.NoError(t, out.ParseMultipartForm(1<<20))
		assert.Equal(t, "ada", out.FormValue("name"))
		assert.Equal(t, "file contents", out.FormValue("upload"))
	})

	t.Run("stream", func(t *testing.T) {
		chunks := io.MultiReader(strings.NewReader("first,"), strings.NewReader("second"))
		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/upload", chunks)
		require.NoError(t, err)

		sr, err := EncodeRequest(req)
		require.NoError(t, err)
		assert.Equal(t, KindStream, sr.Body.Kind())

		decoded, err := DecodeRequest(context.Background(), sr)
		require.NoError(t, err)
		got, err := io.ReadAll(decoded.Body)
		require.NoError(t, err)
		assert.Equal(t, "first,second", string(got))
	})

	t.Run("no body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
		require.NoError(t, err)

		sr, err := EncodeRequest(req)
		require.NoError(t, err)
		assert.Nil(t, sr.Body)

		out := roundTripRequest(t, req)
		assert.Equal(t, int64(0), out.ContentLength)
	})
}

func TestDecodeRequestStripsHopHeaders(t *testing.T) {
	out, err := DecodeRequest(context.Background(), &SerializedRequest{
		URL:    "https://api.example.com/",
		Method: "",
		Headers: map[string]string{
			"host":           "evil.example",
			"content-length": "999",
			"connection":     "keep-alive",
			"accept":         "application/json",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, out.Method)
	assert.Empty(t, out.Header.Get("Host"))
	assert.Empty(t, out.Header.Get("Content-Length"))
	assert.Empty(t, out.Header.Get("Connection"))
	assert.Equal(t, "application/json", out.Header.Get("Accept"))
	assert.Equal(t, "api.example.com", out.Host)
}

func TestDecodeRequestRejectsBadURL(t *testing.T) {
	_, err := DecodeRequest(context.Background(), &SerializedRequest{URL: "://nope", Method: "GET"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestResponseRoundTrip(t *testing.T) {
	data := allBytes()
	req, _ := http.NewRequest(http.MethodGet, "https://cdn.example.com/final", nil)

	resp := &http.Response{
		Status:        "201 Created",
		StatusCode:    http.StatusCreated,
		Header:        http.Header{"Content-Type": {"application/octet-stream"}, "X-Multi": {"a", "b"}},
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}

	sr, err := EncodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/final", sr.URL)
	assert.Equal(t, "Created", sr.StatusText)
	assert.Equal(t, "a, b", sr.Headers["x-multi"])

	raw, err := Marshal(sr)
	require.NoError(t, err)
	var back SerializedResponse
	require.NoError(t, Unmarshal(raw, &back))

	out, err := DecodeResponse(&back)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.StatusCode)
	assert.Equal(t, "201 Created", out.Status)
	assert.Equal(t, "256", out.Header.Get("Content-Length"))

	got, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEncodeResponseUnknownLengthIsStream(t *testing.T) {
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader("chunked body")),
		ContentLength: -1,
	}

	sr, err := EncodeResponse(resp)
	require.NoError(t, err)
	require.IsType(t, Stream{}, sr.Body)
	assert.Equal(t, "OK", sr.StatusText)
	assert.Equal(t, Binary{Data: []byte("chunked body")}, Flatten(sr.Body))
}

func TestDecodeResponseWithoutBody(t *testing.T) {
	out, err := DecodeResponse(&SerializedResponse{Status: http.StatusNoContent, StatusText: "No Content"})
	require.NoError(t, err)

	got, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Empty(t, got)
}
