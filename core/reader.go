package core

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fetchbridge/models"

	"github.com/andybalholm/brotli"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type ReadInput struct {
	RequestID    string
	Response     *http.Response
	Started      time.Time
	PreviewChars int
	MaxBytes     int64
	Now          func() time.Time
}

type ReadResult struct {
	Response      models.Response
	Headers       map[string]string
	Preview       string
	ElapsedMs     int64
	IsEventStream bool
	Body          []byte
}

// forbiddenResponseHeaders are never exposed to pages, as with fetch().
var forbiddenResponseHeaders = map[string]bool{
	"set-cookie":  true,
	"set-cookie2": true,
}

// ReadResponse buffers the body and converts it into the canonical response.
func ReadResponse(in ReadInput) (*ReadResult, error) {
	resp := in.Response
	now := in.Now
	if now == nil {
		now = time.Now
	}

	body, decoded, err := readBody(resp, in.MaxBytes)
	if err != nil {
		return nil, err
	}

	headers := FlattenHeaders(resp.Header)
	if decoded {
		delete(headers, "content-encoding")
		delete(headers, "content-length")
	}
	contentType := headers["content-type"]

	textual := IsTextualContentType(contentType)
	if contentType == "" && len(body) > 0 {
		textual = sniffTextual(body)
	}

	out := models.Response{
		RequestID:  in.RequestID,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    headers,
	}
	var preview string
	if textual {
		out.BodyText = string(body)
		preview = truncatePreview(out.BodyText, in.PreviewChars)
	} else {
		out.BodyBytes = body
		out.Binary = true
		preview = binaryPreview(len(body))
	}
	elapsed := now().Sub(in.Started).Milliseconds()
	out.ElapsedMs = elapsed

	return &ReadResult{
		Response:      out,
		Headers:       headers,
		Preview:       preview,
		ElapsedMs:     elapsed,
		IsEventStream: IsEventStream(contentType),
		Body:          body,
	}, nil
}

func readBody(resp *http.Response, maxBytes int64) ([]byte, bool, error) {
	if resp.Body == nil {
		return nil, false, nil
	}
	reader, decoded, closeFn, err := decodingReader(resp)
	if err != nil {
		return nil, false, err
	}
	defer closeFn()

	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, err
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, false, fmt.Errorf("response body exceeds %d bytes", maxBytes)
	}
	return body, decoded, nil
}

// decodingReader undoes a Content-Encoding the transport left in place.
func decodingReader(resp *http.Response) (io.Reader, bool, func(), error) {
	noop := func() {}
	if resp.Uncompressed {
		return resp.Body, false, noop, nil
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), true, noop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, noop, fmt.Errorf("gzip body: %w", err)
		}
		return zr, true, func() { zr.Close() }, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, false, noop, fmt.Errorf("deflate body: %w", err)
		}
		return zr, true, func() { zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, false, noop, fmt.Errorf("zstd body: %w", err)
		}
		return zr, true, zr.Close, nil
	}
	return resp.Body, false, noop, nil
}

// IsTextualContentType reports whether a body with this content type is
// handed to the page as text.
func IsTextualContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	mediaType := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return strings.HasPrefix(mediaType, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "x-www-form-urlencoded")
}

func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

func sniffTextual(body []byte) bool {
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// FlattenHeaders lower-cases names and joins repeated values with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if forbiddenResponseHeaders[key] {
			continue
		}
		if prev, ok := out[key]; ok {
			out[key] = prev + ", " + strings.Join(values, ", ")
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
