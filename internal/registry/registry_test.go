package registry

import (
	"testing"

	"github.com/xpose-agent/cli/internal/protocol"
)

func TestOpenTakeRequestRoundtrip(t *testing.T) {
	r := New()
	meta := &protocol.RequestMessage{ID: "r1", Method: "GET", URL: "/a"}
	r.OpenRequest(meta)

	ok, oversized := r.AppendChunk("r1", []byte("AAAA"), 1024)
	if !ok || oversized {
		t.Fatalf("expected chunk accepted, got ok=%v oversized=%v", ok, oversized)
	}
	ok, oversized = r.AppendChunk("r1", []byte("BBBB"), 1024)
	if !ok || oversized {
		t.Fatalf("expected second chunk accepted")
	}

	pending := r.TakeRequest("r1")
	if pending == nil {
		t.Fatal("expected pending request")
	}
	if pending.Meta.ID != "r1" {
		t.Errorf("unexpected meta: %+v", pending.Meta)
	}
	body := append([]byte{}, pending.Chunks[0]...)
	body = append(body, pending.Chunks[1]...)
	if string(body) != "AAAABBBB" {
		t.Errorf("order not preserved: got %q", body)
	}

	if again := r.TakeRequest("r1"); again != nil {
		t.Error("expected second TakeRequest for the same id to return nil")
	}
}

func TestAppendChunkDropsUnknownID(t *testing.T) {
	r := New()
	ok, oversized := r.AppendChunk("ghost", []byte("x"), 1024)
	if ok || oversized {
		t.Errorf("expected chunk for unknown id to be dropped silently, got ok=%v oversized=%v", ok, oversized)
	}
}

func TestOpenRequestOverwritesExisting(t *testing.T) {
	r := New()
	r.OpenRequest(&protocol.RequestMessage{ID: "r1", Method: "GET"})
	r.AppendChunk("r1", []byte("stale"), 1024)
	r.OpenRequest(&protocol.RequestMessage{ID: "r1", Method: "POST"})

	pending := r.TakeRequest("r1")
	if pending.Meta.Method != "POST" {
		t.Errorf("expected the later open_request to win, got method %q", pending.Meta.Method)
	}
	if len(pending.Chunks) != 0 {
		t.Errorf("expected chunks reset after overwrite, got %d", len(pending.Chunks))
	}
}

func TestAppendChunkEnforcesCeiling(t *testing.T) {
	r := New()
	r.OpenRequest(&protocol.RequestMessage{ID: "r1"})

	ok, oversized := r.AppendChunk("r1", make([]byte, 100), 100)
	if !ok || oversized {
		t.Fatalf("expected the first 100 bytes to fit exactly, got ok=%v oversized=%v", ok, oversized)
	}

	ok, oversized = r.AppendChunk("r1", []byte("x"), 100)
	if ok || !oversized {
		t.Fatalf("expected ceiling overflow, got ok=%v oversized=%v", ok, oversized)
	}

	if pending := r.TakeRequest("r1"); pending != nil {
		t.Error("expected the oversized request to have been evicted")
	}
}

func TestWsRegisterTakeRoundtrip(t *testing.T) {
	r := New()
	if _, ok := r.LookupWS("w1"); ok {
		t.Fatal("expected no session before registration")
	}

	r.RegisterWS("w1", nil)
	if _, ok := r.LookupWS("w1"); !ok {
		t.Fatal("expected session to be registered")
	}

	if _, ok := r.TakeWS("w1"); !ok {
		t.Fatal("expected TakeWS to find the session")
	}
	if _, ok := r.TakeWS("w1"); ok {
		t.Error("expected second TakeWS for the same id to miss")
	}
}

func TestCloseAllClearsBothMaps(t *testing.T) {
	r := New()
	r.OpenRequest(&protocol.RequestMessage{ID: "r1"})
	r.RegisterWS("w1", nil)

	r.CloseAll()

	if pending := r.TakeRequest("r1"); pending != nil {
		t.Error("expected requests cleared after CloseAll")
	}
	if _, ok := r.LookupWS("w1"); ok {
		t.Error("expected sessions cleared after CloseAll")
	}
}
