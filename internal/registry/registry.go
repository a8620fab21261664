// Package registry tracks per-request-id state for in-flight HTTP request
// bodies and active WebSocket bridge sessions on one tunnel session. Both
// maps are confined to a single session's lifetime: they are created fresh
// on connect and discarded on disconnect, so no request can leak across
// reconnects (spec.md §5, "Global mutable state").
package registry

import (
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/xpose-agent/cli/internal/protocol"
)

// PendingRequest accumulates the body chunks for one inbound HTTP request
// between its "request" and "end" control messages.
type PendingRequest struct {
	Meta   *protocol.RequestMessage
	Chunks [][]byte
	Size   int
}

// Registry holds the two disjoint id -> state maps described in spec.md
// §4.2. All access is serialized by mu; callers never see partial updates.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*PendingRequest
	sessions map[string]*websocket.Conn
}

// New returns an empty registry, meant to be created once per tunnel
// session and discarded on disconnect.
func New() *Registry {
	return &Registry{
		requests: make(map[string]*PendingRequest),
		sessions: make(map[string]*websocket.Conn),
	}
}

// OpenRequest inserts meta under meta.ID with an empty chunk list. If an
// entry already exists for that id, it is silently replaced (spec.md §4.2:
// a protocol violation by the peer, recovered from silently).
func (r *Registry) OpenRequest(meta *protocol.RequestMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[meta.ID] = &PendingRequest{Meta: meta}
}

// AppendChunk appends a body chunk to the pending request for id, bounding
// the accumulated size at maxBodySize. It returns false (and drops the
// chunk) if id is unknown or the accumulated size would exceed the ceiling;
// on ceiling overflow the pending request is also evicted, so TakeRequest
// later returns nothing for it and the caller can synthesize an error.
func (r *Registry) AppendChunk(id string, body []byte, maxBodySize int) (ok bool, oversized bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, exists := r.requests[id]
	if !exists {
		return false, false
	}

	if pending.Size+len(body) > maxBodySize {
		delete(r.requests, id)
		return false, true
	}

	pending.Chunks = append(pending.Chunks, body)
	pending.Size += len(body)
	return true, false
}

// TakeRequest atomically removes and returns the pending request for id, or
// nil if absent (spec.md invariant 2: subsequent chunks/ends for an id
// already taken are no-ops).
func (r *Registry) TakeRequest(id string) *PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, exists := r.requests[id]
	if !exists {
		return nil
	}
	delete(r.requests, id)
	return pending
}

// DropRequest removes a pending request without returning it. The
// size-ceiling path does not call it: AppendChunk evicts on overflow itself.
func (r *Registry) DropRequest(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

// RegisterWS records the live local WebSocket connection bridging session id.
func (r *Registry) RegisterWS(id string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = conn
}

// LookupWS returns the bridged connection for id without removing it, used
// to forward an inbound ws-frame toward the upstream socket.
func (r *Registry) LookupWS(id string) (*websocket.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.sessions[id]
	return conn, ok
}

// TakeWS atomically removes and returns the bridged connection for id.
func (r *Registry) TakeWS(id string) (*websocket.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return conn, ok
}

// CloseAll tears down every tracked WebSocket session concurrently, bounding
// teardown latency to the slowest single close rather than their sum
// (spec.md §5: all in-flight workers bound to a lost session are abandoned).
// Both maps are reset to empty, so pending HTTP requests are dropped without
// ever spawning a replay worker.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*websocket.Conn, 0, len(r.sessions))
	for _, conn := range r.sessions {
		sessions = append(sessions, conn)
	}
	r.requests = make(map[string]*PendingRequest)
	r.sessions = make(map[string]*websocket.Conn)
	r.mu.Unlock()

	var g errgroup.Group
	for _, conn := range sessions {
		if conn == nil {
			continue
		}
		conn := conn
		g.Go(func() error {
			_ = conn.Close(websocket.StatusNormalClosure, "tunnel session closed")
			return nil
		})
	}
	_ = g.Wait()
}
