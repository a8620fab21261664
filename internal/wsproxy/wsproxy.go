// Package wsproxy implements the WebSocket proxy worker (C4): for each
// inbound ws-init it opens a local WebSocket against the origin and bridges
// frames in both directions, base64-encoded over the control channel.
package wsproxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/xpose-agent/cli/internal/protocol"
	"github.com/xpose-agent/cli/internal/registry"
)

// hopByHopWS headers are never forwarded to the local dial: the WebSocket
// library regenerates the handshake from scratch.
var hopByHopWS = map[string]bool{
	"host":                      true,
	"connection":                true,
	"upgrade":                   true,
	"sec-websocket-key":         true,
	"sec-websocket-version":     true,
	"sec-websocket-extensions":  true,
}

// Sender is the subset of the tunnel channel the WS proxy worker needs.
type Sender interface {
	SendJSON(v any) error
}

// DialFunc abstracts the local WebSocket dial so tests can substitute a
// fake origin without opening a real socket. Production code passes
// websocket.Dial.
type DialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

// UpstreamURL derives the local WebSocket URL by replacing only the scheme
// prefix of origin ("http"->"ws", "https"->"wss") and appending urlSuffix,
// resolving the Open Question in spec.md §9 ("scheme mapping") in favor of
// a prefix-only transform instead of a whole-string substring replace.
func UpstreamURL(origin, urlSuffix string) string {
	var scheme string
	switch {
	case strings.HasPrefix(origin, "https://"):
		scheme = "wss://"
		origin = strings.TrimPrefix(origin, "https://")
	case strings.HasPrefix(origin, "http://"):
		scheme = "ws://"
		origin = strings.TrimPrefix(origin, "http://")
	default:
		scheme = "ws://"
	}
	return scheme + origin + urlSuffix
}

// filterHeaders drops the six WebSocket handshake headers (case-insensitive)
// before the headers are forwarded to the local dial.
func filterHeaders(headers map[string]string) http.Header {
	out := make(http.Header, len(headers))
	for k, v := range headers {
		if hopByHopWS[strings.ToLower(k)] {
			continue
		}
		out.Set(k, v)
	}
	return out
}

// Bridge opens a local WebSocket for msg and, on success, registers the
// session in reg and relays upstream->peer frames until either side closes.
// On dial failure it emits ws-close without ever registering a session.
// Frames in the opposite direction (peer->upstream) are delivered by the
// session supervisor via Forward/Close below, not by this function.
func Bridge(ctx context.Context, dial DialFunc, reg *registry.Registry, sender Sender, origin string, msg *protocol.WsInitMessage) {
	url := UpstreamURL(origin, msg.URL)
	headers := filterHeaders(msg.Headers)

	conn, _, err := dial(ctx, url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		_ = sender.SendJSON(&protocol.WsCloseMessage{Type: "ws-close", ID: msg.ID})
		return
	}

	reg.RegisterWS(msg.ID, conn)
	relayUpstreamToPeer(ctx, conn, reg, sender, msg.ID)
}

// relayUpstreamToPeer reads frames from the local WebSocket until it closes
// (upstream closed, local error, or the supervisor closed it in response to
// a peer ws-close) and forwards each as a base64 ws-frame control message.
// On loop exit it emits ws-close exactly once and drops the session.
func relayUpstreamToPeer(ctx context.Context, conn *websocket.Conn, reg *registry.Registry, sender Sender, id string) {
	defer func() {
		if _, ok := reg.TakeWS(id); ok {
			_ = sender.SendJSON(&protocol.WsCloseMessage{Type: "ws-close", ID: id})
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		err = sender.SendJSON(&protocol.WsFrameMessage{
			Type:     "ws-frame",
			ID:       id,
			Data:     base64.StdEncoding.EncodeToString(data),
			IsBinary: msgType == websocket.MessageBinary,
		})
		if err != nil {
			return
		}
	}
}

// Forward delivers one inbound ws-frame toward the upstream socket
// registered under msg.ID. A miss (unknown id) is dropped silently — the
// session may already have been torn down.
func Forward(ctx context.Context, reg *registry.Registry, msg *protocol.WsFrameMessage) error {
	conn, ok := reg.LookupWS(msg.ID)
	if !ok {
		return nil
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return fmt.Errorf("wsproxy: bad base64 frame for %s: %w", msg.ID, err)
	}

	msgType := websocket.MessageText
	if msg.IsBinary {
		msgType = websocket.MessageBinary
	}
	return conn.Write(ctx, msgType, payload)
}

// Close closes the upstream socket registered under id in response to a
// peer ws-close; this causes the bridge's read loop to exit and emit its
// own ws-close, completing the handshake described in spec.md §4.4.
func Close(id string, reg *registry.Registry) {
	// Leave the session registered: relayUpstreamToPeer's deferred TakeWS is
	// what removes it and emits the single ws-close.
	conn, ok := reg.LookupWS(id)
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "peer closed")
}
