package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/xpose-agent/cli/internal/protocol"
	"github.com/xpose-agent/cli/internal/registry"
	"github.com/xpose-agent/cli/internal/replay"
	"github.com/xpose-agent/cli/internal/wsproxy"
)

// Status is the supervisor's connection state, exposed to the TUI.
type Status string

const (
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusConnected      Status = "connected"
	StatusReconnecting   Status = "reconnecting"
	StatusDisconnected   Status = "disconnected"
	StatusUnauthorized   Status = "unauthorized"
)

// TrafficEntry records one replayed HTTP request for display.
type TrafficEntry struct {
	ID        string
	Method    string
	URL       string
	Status    int
	Duration  time.Duration
	Timestamp time.Time
}

// WsEntry records a bridged WebSocket session opening or closing.
type WsEntry struct {
	ID        string
	Event     string // "open" or "close"
	Timestamp time.Time
}

// Event is emitted on Client.Events for the TUI (or any observer) to consume.
type Event struct {
	Type    string // "status", "traffic", "ws", "error"
	Status  Status
	Traffic *TrafficEntry
	Ws      *WsEntry
	Err     error
}

// Options configures a tunnel client.
type Options struct {
	Token            string
	Origin           string // local origin base URL, e.g. "http://127.0.0.1:8080"
	TunnelAuthority  string // bare authority of the tunnel server
	MaxBodySizeBytes int
	Backoff          Strategy         // defaults to FixedDelay(protocol.ReconnectDelay)
	Dial             wsproxy.DialFunc // overridable for tests; defaults to websocket.Dial
}

// Client supervises one tunnel session: connect, authenticate, drive the
// demultiplex loop, and reconnect with backoff (spec.md §4.5).
type Client struct {
	opts   Options
	wsURL  string
	Events chan Event

	backoff  Strategy
	dialFunc wsproxy.DialFunc

	mu                    sync.Mutex
	conn                  *websocket.Conn
	cancel                context.CancelFunc
	intentionalDisconnect bool
	reconnectAttempts     int

	oversizedMu sync.Mutex
	oversized   map[string]bool

	wsQueueMu sync.Mutex
	wsQueues  map[string]*wsQueue
}

// wsQueue serializes the ws-frame/ws-close jobs for one bridged WebSocket
// session so they apply to the local origin socket in arrival order, even
// though each is first observed on its own dispatch from the demux loop
// (spec.md §4.4, §5 "precise framing, ordering, and cleanup").
type wsQueue struct {
	ch     chan func()
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient builds a Client ready to Connect().
func NewClient(opts Options) *Client {
	backoff := opts.Backoff
	if backoff == nil {
		backoff = FixedDelay(protocol.ReconnectDelay)
	}
	dial := opts.Dial
	if dial == nil {
		dial = websocket.Dial
	}
	if opts.MaxBodySizeBytes <= 0 {
		opts.MaxBodySizeBytes = protocol.DefaultMaxBodySizeBytes
	}

	return &Client{
		opts:      opts,
		wsURL:     "wss://" + opts.TunnelAuthority + protocol.TunnelConnectPath,
		Events:    make(chan Event, 256),
		backoff:   backoff,
		dialFunc:  dial,
		oversized: make(map[string]bool),
		wsQueues:  make(map[string]*wsQueue),
	}
}

// Connect starts the session loop in the background. Non-blocking.
func (c *Client) Connect() {
	go c.connectLoop()
}

// Disconnect requests a clean shutdown: the in-flight session is closed and
// no reconnect is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentionalDisconnect = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.Events <- ev:
	default:
		// Drop the event rather than block the demultiplex loop.
	}
}

// sessionSender implements replay.Sender and wsproxy.Sender for exactly one
// session attempt, serializing writes to conn and scoping them to ctx so
// that an abandoned worker from a prior session can never write onto a
// reconnected session's channel (spec.md §5, §9 "Global mutable state").
type sessionSender struct {
	conn    *websocket.Conn
	writeMu *sync.Mutex
	ctx     context.Context
}

func (s *sessionSender) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *sessionSender) SendChunk(id string, payload []byte) error {
	frame := protocol.EncodeFrame(id, payload)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageBinary, frame)
}

func (c *Client) connectLoop() {
	c.mu.Lock()
	c.intentionalDisconnect = false
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	status := StatusConnecting
	if attempt > 0 {
		status = StatusReconnecting
	}
	c.emit(Event{Type: "status", Status: status})

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	conn, _, err := c.dialFunc(ctx, c.wsURL, nil)
	if err != nil {
		c.handleSessionError(err)
		return
	}
	conn.SetReadLimit(-1) // spec.md §4.5: no maximum message size limit

	reg := registry.New()
	c.mu.Lock()
	c.conn = conn
	c.reconnectAttempts = 0
	c.mu.Unlock()
	defer reg.CloseAll()

	sender := &sessionSender{conn: conn, writeMu: &sync.Mutex{}, ctx: ctx}

	c.emit(Event{Type: "status", Status: StatusAuthenticating})
	if err := sender.SendJSON(&protocol.AuthMessage{Type: "auth", Token: c.opts.Token}); err != nil {
		c.handleSessionError(err)
		return
	}

	c.demultiplexLoop(ctx, conn, reg, sender)
}

func (c *Client) demultiplexLoop(ctx context.Context, conn *websocket.Conn, reg *registry.Registry, sender *sessionSender) {
	parser := &protocol.Parser{}
	authenticated := false

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalDisconnect
			c.mu.Unlock()
			if intentional {
				c.emit(Event{Type: "status", Status: StatusDisconnected})
				return
			}
			c.handleSessionError(err)
			return
		}

		if !authenticated {
			authenticated = true
			c.emit(Event{Type: "status", Status: StatusConnected})
		}

		switch msgType {
		case websocket.MessageBinary:
			frames, perr := parser.Feed(data)
			for _, f := range frames {
				c.handleBinaryFrame(reg, f)
			}
			if perr != nil {
				c.handleSessionError(perr)
				return
			}

		case websocket.MessageText:
			parsed, perr := protocol.ParseTextMessage(data)
			if perr != nil {
				c.handleSessionError(perr)
				return
			}
			c.dispatchText(ctx, reg, sender, parsed)
		}
	}
}

// handleBinaryFrame appends a CHNK frame's payload to its pending request,
// dropping unknown ids silently and marking oversized requests so the
// eventual `end` can report the ceiling violation (spec.md invariant 3,
// §9 "Unbounded buffers").
func (c *Client) handleBinaryFrame(reg *registry.Registry, f protocol.Frame) {
	_, oversized := reg.AppendChunk(f.ID, f.Payload, c.opts.MaxBodySizeBytes)
	if oversized {
		c.oversizedMu.Lock()
		c.oversized[f.ID] = true
		c.oversizedMu.Unlock()
	}
}

func (c *Client) dispatchText(ctx context.Context, reg *registry.Registry, sender *sessionSender, parsed any) {
	switch msg := parsed.(type) {
	case *protocol.RequestMessage:
		c.oversizedMu.Lock()
		delete(c.oversized, msg.ID)
		c.oversizedMu.Unlock()
		reg.OpenRequest(msg)

	case *protocol.EndMessage:
		c.oversizedMu.Lock()
		wasOversized := c.oversized[msg.ID]
		delete(c.oversized, msg.ID)
		c.oversizedMu.Unlock()

		if wasOversized {
			go replay.SendErrorResponse(sender, msg.ID, &replay.BodyTooLargeError{Limit: c.opts.MaxBodySizeBytes})
			return
		}

		pending := reg.TakeRequest(msg.ID)
		if pending == nil {
			return
		}
		go c.replayRequest(sender, pending)

	case *protocol.WsInitMessage:
		c.openWsQueue(ctx, msg.ID)
		go c.bridgeWs(ctx, reg, sender, msg)

	case *protocol.WsFrameMessage:
		c.enqueueWsJob(msg.ID, func() {
			_ = wsproxy.Forward(ctx, reg, msg)
		})

	case *protocol.WsCloseMessage:
		c.enqueueWsJob(msg.ID, func() {
			wsproxy.Close(msg.ID, reg)
		})
	}
}

// openWsQueue creates the ordered job queue for a newly bridged session and
// starts its single worker goroutine. The queue must exist before dispatchText
// returns so that a ws-frame/ws-close arriving immediately after ws-init is
// never dropped as "unknown id".
func (c *Client) openWsQueue(ctx context.Context, id string) {
	qctx, cancel := context.WithCancel(ctx)
	q := &wsQueue{ch: make(chan func(), 64), ctx: qctx, cancel: cancel}

	c.wsQueueMu.Lock()
	c.wsQueues[id] = q
	c.wsQueueMu.Unlock()

	go func() {
		for {
			select {
			case job := <-q.ch:
				job()
			case <-qctx.Done():
				return
			}
		}
	}()
}

// enqueueWsJob appends a job to id's ordered queue, applying it only after
// every job already queued for that id. An unknown id (no live session, or
// already torn down) is dropped silently, matching Forward/Close's own
// unknown-id behavior.
func (c *Client) enqueueWsJob(id string, job func()) {
	c.wsQueueMu.Lock()
	q, ok := c.wsQueues[id]
	c.wsQueueMu.Unlock()
	if !ok {
		return
	}
	select {
	case q.ch <- job:
	case <-q.ctx.Done():
	}
}

// closeWsQueue retires id's ordered queue once its bridge session has ended.
func (c *Client) closeWsQueue(id string) {
	c.wsQueueMu.Lock()
	q, ok := c.wsQueues[id]
	if ok {
		delete(c.wsQueues, id)
	}
	c.wsQueueMu.Unlock()
	if ok {
		q.cancel()
	}
}

func (c *Client) replayRequest(sender *sessionSender, pending *registry.PendingRequest) {
	start := time.Now()
	result := replay.Replay(sender, c.opts.Origin, c.opts.MaxBodySizeBytes, pending)
	c.emit(Event{
		Type: "traffic",
		Traffic: &TrafficEntry{
			ID:        result.ID,
			Method:    result.Method,
			URL:       result.URL,
			Status:    result.Status,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		},
	})
}

func (c *Client) bridgeWs(ctx context.Context, reg *registry.Registry, sender *sessionSender, msg *protocol.WsInitMessage) {
	c.emit(Event{Type: "ws", Ws: &WsEntry{ID: msg.ID, Event: "open", Timestamp: time.Now()}})
	wsproxy.Bridge(ctx, c.dialFunc, reg, sender, c.opts.Origin, msg)
	c.closeWsQueue(msg.ID)
	c.emit(Event{Type: "ws", Ws: &WsEntry{ID: msg.ID, Event: "close", Timestamp: time.Now()}})
}

// handleSessionError classifies a transport error and either escalates to
// UNAUTHORIZED (fatal, no reconnect) or schedules a reconnect (spec.md
// §4.5, §9 "String-matching on error messages").
func (c *Client) handleSessionError(err error) {
	if err != nil && strings.Contains(err.Error(), protocol.UnauthorizedMarker) {
		c.emit(Event{Type: "status", Status: StatusUnauthorized})
		c.emit(Event{Type: "error", Err: fmt.Errorf("authentication rejected: %w", err)})
		return
	}
	c.emit(Event{Type: "error", Err: err})
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentionalDisconnect {
		c.mu.Unlock()
		return
	}
	attempt := c.reconnectAttempts
	c.reconnectAttempts++
	c.mu.Unlock()

	c.emit(Event{Type: "status", Status: StatusReconnecting})

	delay := c.backoff(attempt)
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		intentional := c.intentionalDisconnect
		c.mu.Unlock()
		if !intentional {
			c.connectLoop()
		}
	})
}
