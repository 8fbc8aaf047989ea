package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// decodeContent replaces a compressed body with its decoded stream and
// drops the headers describing the encoded form. Unknown encodings are
// passed through unchanged.
func decodeContent(resp *http.Response) error {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}

	body := resp.Body
	var decoded *decodedBody
	switch enc {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if errors.Is(err, io.EOF) {
			return markDecoded(resp, &decodedBody{Reader: http.NoBody, closers: []func() error{body.Close}})
		}
		if err != nil {
			return fmt.Errorf("gzip body: %w", err)
		}
		decoded = &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}
	case "deflate":
		zr, err := zlib.NewReader(body)
		if errors.Is(err, io.EOF) {
			return markDecoded(resp, &decodedBody{Reader: http.NoBody, closers: []func() error{body.Close}})
		}
		if err != nil {
			return fmt.Errorf("deflate body: %w", err)
		}
		decoded = &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return fmt.Errorf("zstd body: %w", err)
		}
		decoded = &decodedBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			body.Close,
		}}
	default:
		return nil
	}
	return markDecoded(resp, decoded)
}

func markDecoded(resp *http.Response, body *decodedBody) error {
	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
