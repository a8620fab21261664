package wsproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/xpose-agent/cli/internal/protocol"
	"github.com/xpose-agent/cli/internal/registry"
)

// fakeSender records every JSON message sent, in order.
type fakeSender struct {
	frames []*protocol.WsFrameMessage
	closes []*protocol.WsCloseMessage
}

func (f *fakeSender) SendJSON(v any) error {
	switch m := v.(type) {
	case *protocol.WsFrameMessage:
		f.frames = append(f.frames, m)
	case *protocol.WsCloseMessage:
		f.closes = append(f.closes, m)
	}
	return nil
}

func TestUpstreamURLSchemeMapping(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":  "ws://127.0.0.1:8080/socket",
		"https://127.0.0.1:8080": "wss://127.0.0.1:8080/socket",
	}
	for origin, want := range cases {
		got := UpstreamURL(origin, "/socket")
		if got != want {
			t.Errorf("UpstreamURL(%q) = %q, want %q", origin, got, want)
		}
	}
}

func TestFilterHeadersDropsHandshakeHeaders(t *testing.T) {
	headers := filterHeaders(map[string]string{
		"Host":                     "evil",
		"Connection":               "Upgrade",
		"Upgrade":                  "websocket",
		"Sec-WebSocket-Key":        "abc",
		"Sec-WebSocket-Version":    "13",
		"Sec-WebSocket-Extensions": "permessage-deflate",
		"X-Keep":                   "yes",
	})
	if len(headers) != 1 || headers.Get("X-Keep") != "yes" {
		t.Fatalf("expected only X-Keep to survive, got %v", headers)
	}
}

// newEchoOriginServer runs a local WS origin that sends one binary frame
// (0xDEADBEEF) immediately on accept, then hands the first frame it receives
// to the test via a channel.
func newEchoOriginServer(t *testing.T, received chan<- []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := context.Background()
		if err := conn.Write(ctx, websocket.MessageBinary, []byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- data

		<-ctx.Done()
	}))
}

func dialVia(server *httptest.Server) DialFunc {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
		return websocket.Dial(ctx, wsURL, opts)
	}
}

func TestBridgeEndToEnd(t *testing.T) {
	received := make(chan []byte, 1)
	server := newEchoOriginServer(t, received)
	defer server.Close()

	reg := registry.New()
	sender := &fakeSender{}
	msg := &protocol.WsInitMessage{Type: "ws-init", ID: "w1", URL: "/socket", Headers: map[string]string{"Host": "evil"}}

	done := make(chan struct{})
	go func() {
		Bridge(context.Background(), dialVia(server), reg, sender, "http://origin.invalid", msg)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(sender.frames) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for outbound ws-frame")
		case <-time.After(10 * time.Millisecond):
		}
	}

	frame := sender.frames[0]
	if !frame.IsBinary {
		t.Error("expected the echoed frame to be marked binary")
	}
	if frame.Data != "3q2+7w==" {
		t.Errorf("expected base64 3q2+7w==, got %q", frame.Data)
	}

	// Forward an inbound text frame "hi" (base64 aGk=) toward the origin.
	if err := Forward(context.Background(), reg, &protocol.WsFrameMessage{ID: "w1", Data: "aGk=", IsBinary: false}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hi" {
			t.Errorf("origin received %q, want \"hi\"", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for origin to receive forwarded frame")
	}

	Close("w1", reg)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Bridge to exit after Close")
	}

	if len(sender.closes) != 1 || sender.closes[0].ID != "w1" {
		t.Fatalf("expected exactly one ws-close for w1, got %v", sender.closes)
	}
	if _, ok := reg.LookupWS("w1"); ok {
		t.Error("expected session removed from registry after close")
	}
}

func TestBridgeDialFailureEmitsWsCloseOnly(t *testing.T) {
	reg := registry.New()
	sender := &fakeSender{}
	msg := &protocol.WsInitMessage{Type: "ws-init", ID: "w2", URL: "/nope"}

	failingDial := func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
		return nil, nil, base64CorruptError{}
	}

	Bridge(context.Background(), failingDial, reg, sender, "http://origin.invalid", msg)

	if len(sender.frames) != 0 {
		t.Errorf("expected no ws-frame on dial failure, got %v", sender.frames)
	}
	if len(sender.closes) != 1 || sender.closes[0].ID != "w2" {
		t.Fatalf("expected exactly one ws-close for w2, got %v", sender.closes)
	}
	if _, ok := reg.LookupWS("w2"); ok {
		t.Error("expected no session ever registered on dial failure")
	}
}

func TestForwardUnknownIDIsNoop(t *testing.T) {
	reg := registry.New()
	if err := Forward(context.Background(), reg, &protocol.WsFrameMessage{ID: "ghost", Data: "aGk="}); err != nil {
		t.Errorf("expected unknown id to be a silent no-op, got %v", err)
	}
}

func TestForwardBadBase64(t *testing.T) {
	reg := registry.New()
	reg.RegisterWS("w1", nil)
	err := Forward(context.Background(), reg, &protocol.WsFrameMessage{ID: "w1", Data: "not-base64!!"})
	if err == nil {
		t.Error("expected an error for malformed base64")
	}
}

type base64CorruptError struct{}

func (base64CorruptError) Error() string { return "dial refused" }
