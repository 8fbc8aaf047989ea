package wire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

const streamReadSize = 32 << 10

// SerializedRequest is a request in transit.
type SerializedRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    Body
}

// SerializedResponse is a response in transit.
type SerializedResponse struct {
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       Body
}

// Payload is a decoded body ready to be sent.
type Payload struct {
	Reader io.Reader
	// Length is -1 when unknown.
	Length int64
	// ContentType is set when the encoding dictates it, as for multipart.
	ContentType string
}

// EncodeBody captures body according to contentType. knownLength tells
// whether the body can be read eagerly; otherwise it is drained as a Stream.
func EncodeBody(contentType string, body io.Reader, knownLength bool) (Body, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil {
		switch {
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
			raw, err := readAll(body)
			if err != nil {
				return nil, err
			}
			var v any
			if err := api.Unmarshal(raw, &v); err != nil {
				return Binary{Data: raw}, nil
			}
			return JSON{Value: v}, nil

		case mediaType == "text/plain":
			raw, err := readAll(body)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(raw) {
				return Binary{Data: raw}, nil
			}
			return Text{Value: string(raw)}, nil

		case mediaType == "multipart/form-data" && params["boundary"] != "":
			raw, err := readAll(body)
			if err != nil {
				return nil, err
			}
			form, err := parseForm(raw, params["boundary"])
			if err != nil {
				return Binary{Data: raw}, nil
			}
			return FormData{Value: form}, nil
		}
	}

	if knownLength {
		raw, err := readAll(body)
		if err != nil {
			return nil, err
		}
		return Binary{Data: raw}, nil
	}
	return drain(body)
}

// DecodeBody turns b back into bytes to send.
func DecodeBody(b Body) (*Payload, error) {
	switch v := b.(type) {
	case nil:
		return &Payload{Length: 0}, nil
	case JSON:
		data, err := api.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: json body: %v", types.ErrInvalidRequest, err)
		}
		return &Payload{Reader: bytes.NewReader(data), Length: int64(len(data))}, nil
	case Text:
		return &Payload{Reader: strings.NewReader(v.Value), Length: int64(len(v.Value))}, nil
	case FormData:
		return encodeForm(v.Value)
	case Binary:
		return &Payload{Reader: bytes.NewReader(v.Data), Length: int64(len(v.Data))}, nil
	case Stream:
		readers := make([]io.Reader, len(v.Chunks))
		for i, c := range v.Chunks {
			readers[i] = bytes.NewReader(c)
		}
		return &Payload{Reader: io.MultiReader(readers...), Length: -1}, nil
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnsupportedBody, b)
	}
}

// EncodeRequest captures req. The body is consumed and closed.
func EncodeRequest(req *http.Request) (*SerializedRequest, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}

	known := req.GetBody != nil || req.ContentLength > 0
	body, err := EncodeBody(req.Header.Get("Content-Type"), req.Body, known)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	return &SerializedRequest{
		URL:     req.URL.String(),
		Method:  method,
		Headers: HeaderMap(req.Header),
		Body:    body,
	}, nil
}

// DecodeRequest rebuilds an outgoing request. Hop-by-hop headers and Host
// are dropped; multipart bodies get a fresh boundary.
func DecodeRequest(ctx context.Context, sr *SerializedRequest) (*http.Request, error) {
	payload, err := DecodeBody(sr.Body)
	if err != nil {
		return nil, err
	}

	method := sr.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if sr.Body != nil {
		body = payload.Reader
	}

	req, err := http.NewRequestWithContext(ctx, method, sr.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	req.Header = Header(sr.Headers)
	StripHopHeaders(req.Header)
	if payload.ContentType != "" {
		req.Header.Set("Content-Type", payload.ContentType)
	}
	if sr.Body != nil && payload.Length >= 0 {
		req.ContentLength = payload.Length
	}

	return req, nil
}

// EncodeResponse captures resp. The body is consumed and closed.
func EncodeResponse(resp *http.Response) (*SerializedResponse, error) {
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	body, err := EncodeBody(resp.Header.Get("Content-Type"), resp.Body, resp.ContentLength >= 0)
	if err != nil {
		return nil, err
	}

	var url string
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}

	return &SerializedResponse{
		URL:        url,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    HeaderMap(resp.Header),
		Body:       body,
	}, nil
}

// DecodeResponse rebuilds a response. Content-Length reflects the decoded
// body, not the upstream one.
func DecodeResponse(sr *SerializedResponse) (*http.Response, error) {
	payload, err := DecodeBody(sr.Body)
	if err != nil {
		return nil, err
	}

	header := Header(sr.Headers)
	header.Del("Content-Length")
	if payload.ContentType != "" {
		header.Set("Content-Type", payload.ContentType)
	}

	body := io.NopCloser(http.NoBody)
	if sr.Body != nil {
		body = io.NopCloser(payload.Reader)
		if payload.Length >= 0 {
			header.Set("Content-Length", strconv.FormatInt(payload.Length, 10))
		}
	}

	return &http.Response{
		Status:        strings.TrimSpace(strconv.Itoa(sr.Status) + " " + sr.StatusText),
		StatusCode:    sr.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: payload.Length,
	}, nil
}

func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read failed: %v", types.ErrUnsupportedBody, err)
	}
	return data, nil
}

func drain(r io.Reader) (Body, error) {
	var chunks [][]byte
	buf := make([]byte, streamReadSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunks = append(chunks, bytes.Clone(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return Stream{Chunks: chunks}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stream drain failed: %v", types.ErrUnsupportedBody, err)
		}
	}
}

func parseForm(raw []byte, boundary string) (map[string]string, error) {
	form := make(map[string]string)
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return nil, err
		}
		name := part.FormName()
		value, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		if name != "" {
			form[name] = string(value)
		}
	}
}

func encodeForm(fields map[string]string) (*Payload, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return &Payload{
		Reader:      bytes.NewReader(buf.Bytes()),
		Length:      int64(buf.Len()),
		ContentType: w.FormDataContentType(),
	}, nil
}
