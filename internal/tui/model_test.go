package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xpose-agent/cli/internal/tunnel"
)

func newTestModel() Model {
	client := tunnel.NewClient(tunnel.Options{
		Token:           "tok",
		Origin:          "http://127.0.0.1:3000",
		TunnelAuthority: "tunnel.example.com",
	})
	return NewModel(client, "http://127.0.0.1:3000", "tunnel.example.com", 5*1024*1024)
}

func TestNewModel_InitialState(t *testing.T) {
	m := newTestModel()
	assert.Equal(t, tunnel.StatusConnecting, m.status)
	assert.Empty(t, m.log)
}

func TestModel_HandleStatus(t *testing.T) {
	m := newTestModel()

	msg := tunnelEventMsg{event: tunnel.Event{Type: "status", Status: tunnel.StatusConnected}}
	newM, _ := m.Update(msg)
	model := newM.(Model)
	assert.Equal(t, tunnel.StatusConnected, model.status)
}

func TestModel_HandleTraffic(t *testing.T) {
	m := newTestModel()

	msg := tunnelEventMsg{event: tunnel.Event{
		Type: "traffic",
		Traffic: &tunnel.TrafficEntry{
			ID:        "req-1",
			Method:    "GET",
			URL:       "/api/test",
			Status:    200,
			Duration:  42 * time.Millisecond,
			Timestamp: time.Now(),
		},
	}}

	newM, _ := m.Update(msg)
	model := newM.(Model)
	assert.Len(t, model.log, 1)
	assert.Contains(t, model.log[0], "GET")
}

func TestModel_HandleWs(t *testing.T) {
	m := newTestModel()

	msg := tunnelEventMsg{event: tunnel.Event{
		Type: "ws",
		Ws:   &tunnel.WsEntry{ID: "ws-1", Event: "open", Timestamp: time.Now()},
	}}

	newM, _ := m.Update(msg)
	model := newM.(Model)
	assert.Len(t, model.log, 1)
	assert.Contains(t, model.log[0], "ws-1")
}

func TestModel_UnauthorizedQuits(t *testing.T) {
	m := newTestModel()

	msg := tunnelEventMsg{event: tunnel.Event{Type: "status", Status: tunnel.StatusUnauthorized}}
	newM, cmd := m.Update(msg)
	model := newM.(Model)
	assert.True(t, model.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_LogRingBuffer(t *testing.T) {
	m := newTestModel()

	for i := 0; i < maxLogEntries+50; i++ {
		m.appendLog("line")
	}

	assert.Len(t, m.log, maxLogEntries)
}

func TestModel_ViewStringConnected(t *testing.T) {
	m := newTestModel()
	m.status = tunnel.StatusConnected

	view := m.ViewString()
	assert.Contains(t, view, "xpose-agent")
	assert.Contains(t, view, "tunnel.example.com")
	assert.Contains(t, view, "http://127.0.0.1:3000")
}

func TestModel_ViewStringWithTraffic(t *testing.T) {
	m := newTestModel()
	m.status = tunnel.StatusConnected
	m.log = append(m.log, RenderTrafficLine("POST", "/submit", 201, 15*time.Millisecond, time.Now()))

	view := m.ViewString()
	assert.Contains(t, view, "POST")
	assert.Contains(t, view, "/submit")
}

func TestRenderBanner(t *testing.T) {
	banner := RenderBanner("http://127.0.0.1:3000", "tunnel.example.com", 5*1024*1024, "connected")
	assert.Contains(t, banner, "xpose-agent")
	assert.Contains(t, banner, "tunnel.example.com")
	assert.Contains(t, banner, "http://127.0.0.1:3000")
	assert.Contains(t, banner, "5242880 bytes")
}
