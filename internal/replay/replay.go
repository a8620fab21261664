// Package replay implements the HTTP replay worker (C3): for each complete
// inbound request it reissues the request against the local origin and
// streams the response back through the tunnel channel as a response
// control message, zero or more binary body chunks, and a terminal end
// control message.
package replay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/xpose-agent/cli/internal/protocol"
	"github.com/xpose-agent/cli/internal/registry"
)

// hopByHopRequest headers are stripped from the outbound origin request
// because the HTTP client regenerates them from the real request it sends.
var hopByHopRequest = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
}

// Sender is the subset of the tunnel channel the replay worker needs. It is
// implemented by the session supervisor so this package stays decoupled
// from the websocket transport and can serialize writes on its own terms.
type Sender interface {
	SendJSON(v any) error
	SendChunk(id string, payload []byte) error
}

// Result records one replayed request for display purposes (traffic log).
type Result struct {
	ID     string
	Method string
	URL    string
	Status int
}

// Replay issues pending.Meta against origin (the local origin base URL,
// e.g. "http://127.0.0.1:8080") with the assembled request body, and writes
// the response back through sender following spec.md §4.3/§4.5.
//
// Exactly one ResponseMessage is ever sent for pending.Meta.ID, whether the
// origin round trip succeeds or fails; failures are reported as a
// synthesized 500 with the error text as a plaintext body, never by
// skipping the handshake.
func Replay(sender Sender, origin string, maxBodySize int, pending *registry.PendingRequest) Result {
	meta := pending.Meta
	body := concatChunks(pending.Chunks)

	resp, err := doRequest(origin, meta, body, maxBodySize)
	if err != nil {
		SendErrorResponse(sender, meta.ID, err)
		return Result{ID: meta.ID, Method: meta.Method, URL: meta.URL, Status: 500}
	}
	defer resp.Body.Close()

	headers := collectResponseHeaders(resp.Header)
	if err := sender.SendJSON(&protocol.ResponseMessage{
		Type:    "response",
		ID:      meta.ID,
		Status:  resp.StatusCode,
		Headers: headers,
	}); err != nil {
		return Result{ID: meta.ID, Method: meta.Method, URL: meta.URL, Status: resp.StatusCode}
	}

	if err := streamBody(sender, meta.ID, resp.Body, maxBodySize); err != nil {
		// The header has already gone out; still release the peer with end.
		_ = sender.SendJSON(&protocol.EndMessage{Type: "end", ID: meta.ID})
		return Result{ID: meta.ID, Method: meta.Method, URL: meta.URL, Status: resp.StatusCode}
	}

	_ = sender.SendJSON(&protocol.EndMessage{Type: "end", ID: meta.ID})
	return Result{ID: meta.ID, Method: meta.Method, URL: meta.URL, Status: resp.StatusCode}
}

// doRequest builds and issues the upstream request.
func doRequest(origin string, meta *protocol.RequestMessage, body []byte, maxBodySize int) (*http.Response, error) {
	url := origin + meta.URL

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequest(meta.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	for key, value := range meta.Headers {
		if hopByHopRequest[strings.ToLower(key)] {
			continue
		}
		req.Header.Add(key, value)
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach origin: %w", err)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size > int64(maxBodySize) {
			resp.Body.Close()
			return nil, &BodyTooLargeError{Limit: maxBodySize}
		}
	}

	return resp, nil
}

// collectResponseHeaders preserves single-valued headers as key->string and
// gathers every Set-Cookie value, in order, under the exact key "Set-Cookie"
// (spec.md §4.3 step 4, testable property 5). A repeated non-Set-Cookie
// header keeps its last occurrence, matching original_source/tunnel.py's
// handle_http_request, which overwrites raw_headers[key] on every repeat.
func collectResponseHeaders(h http.Header) protocol.ResponseHeaders {
	out := protocol.ResponseHeaders{}
	for key, values := range h {
		if strings.EqualFold(key, "Set-Cookie") {
			for _, v := range values {
				out.AddCookie(v)
			}
			continue
		}
		if len(values) > 0 {
			out.Set(key, values[len(values)-1])
		}
	}
	return out
}

// streamBody writes body to the tunnel channel in chunks of at most
// protocol.HTTPBodyChunkSize bytes, each as one binary envelope tagged id.
// It aborts with a BodyTooLargeError once more than maxBodySize bytes have
// been read, mirroring the ceiling the registry enforces on the request
// side (no Content-Length header is a reliable guide for chunked origin
// responses, so this counts actual bytes read instead).
func streamBody(sender Sender, id string, body io.Reader, maxBodySize int) error {
	buf := make([]byte, protocol.HTTPBodyChunkSize)
	sent := 0
	for {
		n, err := body.Read(buf)
		if n > 0 {
			sent += n
			if sent > maxBodySize {
				return &BodyTooLargeError{Limit: maxBodySize}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := sender.SendChunk(id, chunk); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SendErrorResponse emits the synthesized-500 failure sequence from
// spec.md §4.3: response(500, text/plain) -> one chunk with the error text
// -> end. Exported so the supervisor can report a registry-side failure
// (e.g. a body-size ceiling violation) using the same sequence, for a
// request that never reaches Replay because it was evicted before a
// PendingRequest could be assembled.
func SendErrorResponse(sender Sender, id string, cause error) {
	headers := protocol.ResponseHeaders{}
	headers.Set("Content-Type", "text/plain")

	_ = sender.SendJSON(&protocol.ResponseMessage{
		Type:    "response",
		ID:      id,
		Status:  500,
		Headers: headers,
	})
	_ = sender.SendChunk(id, []byte(cause.Error()))
	_ = sender.SendJSON(&protocol.EndMessage{Type: "end", ID: id})
}

func concatChunks(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// BodyTooLargeError is the typed error reported when a request or response
// body would exceed the configured ceiling. The supervisor sends it through
// SendErrorResponse for a request the registry evicted as oversized, and
// Replay reports it the same way for an oversized origin response.
type BodyTooLargeError struct {
	Limit int
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("body exceeds %d byte limit", e.Limit)
}
