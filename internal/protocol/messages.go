package protocol

import (
	"encoding/json"
)

// Envelope is used for initial type discrimination when parsing messages.
type Envelope struct {
	Type string `json:"type"`
}

// AuthMessage is the single control message the agent sends immediately
// after the tunnel channel connects.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// RequestMessage begins a new HTTP request stream (inbound).
type RequestMessage struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// EndMessage finalizes an HTTP request body (inbound, id refers to a
// RequestMessage) or an HTTP response body (outbound, id refers to the same
// request). The wire shape is identical in both directions.
type EndMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ResponseHeaders is a JSON object whose values are ordinarily single
// strings, except "Set-Cookie" which is always a list of strings, even when
// the origin sent a single Set-Cookie header. encoding/json already marshals a
// map[string]any this way, so no custom (Un)MarshalJSON is needed.
type ResponseHeaders map[string]any

// Set stores a single-valued header.
func (h ResponseHeaders) Set(key, value string) {
	h[key] = value
}

// AddCookie appends to the Set-Cookie list under the canonical key.
func (h ResponseHeaders) AddCookie(value string) {
	existing, ok := h["Set-Cookie"]
	if !ok {
		h["Set-Cookie"] = []string{value}
		return
	}
	list, ok := existing.([]string)
	if !ok {
		return
	}
	h["Set-Cookie"] = append(list, value)
}

// ResponseMessage carries the HTTP response status and headers back to the
// tunnel peer; exactly one is sent per request id, before any body chunks.
type ResponseMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Status  int             `json:"status"`
	Headers ResponseHeaders `json:"headers"`
}

// WsInitMessage asks the agent to open a bridged WebSocket session against
// the local origin.
type WsInitMessage struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// WsFrameMessage carries one base64-encoded WebSocket frame, in either
// direction, for an already-bridged session.
type WsFrameMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Data     string `json:"data"`
	IsBinary bool   `json:"isBinary"`
}

// WsCloseMessage signals that one side of a bridged WebSocket session has
// closed; it flows in either direction.
type WsCloseMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ParseTextMessage parses a raw JSON control message into its concrete
// message struct. It returns (nil, nil) for unknown message types (ignored
// per spec) and (nil, error) for malformed JSON (which must be treated as a
// protocol desync, forcing a reconnect).
func ParseTextMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "request":
		var msg RequestMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case "end":
		var msg EndMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case "ws-init":
		var msg WsInitMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case "ws-frame":
		var msg WsFrameMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case "ws-close":
		var msg WsCloseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil

	default:
		return nil, nil
	}
}

// IsTunnelMessage checks whether the given data looks like a tunnel protocol
// message by verifying it contains a non-empty "type" field.
func IsTunnelMessage(data []byte) bool {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return env.Type != ""
}
