// Package hub implements the per-gateway relay: one Hub instance terminates
// a single gateway duplex connection and fans out terminal bytes and
// control messages to every attached browser connection for that gateway's
// sessions.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tangramhq/gatewayhub/internal/hub/replay"
	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/metrics"
	"github.com/tangramhq/gatewayhub/internal/util"
	"github.com/tangramhq/gatewayhub/internal/wire"
	"go.uber.org/zap"
)

// Config tunes a Hub's timing behaviour.
type Config struct {
	// CommandTimeout bounds how long sendCommand waits for an ack before
	// rejecting the waiter. Default 10s.
	CommandTimeout time.Duration
	// IdleSweepInterval is how often the idle-eviction sweep runs. Default 60s.
	IdleSweepInterval time.Duration
	// IdleThreshold is how long a browser subscriber may go without activity
	// before the sweep evicts it. Default 600s.
	IdleThreshold time.Duration
	// DisconnectGrace is how long a gateway may be absent before the hub
	// persists it as disconnected. Default 30s.
	DisconnectGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.IdleSweepInterval == 0 {
		c.IdleSweepInterval = 60 * time.Second
	}
	if c.IdleThreshold == 0 {
		c.IdleThreshold = 600 * time.Second
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = 30 * time.Second
	}
}

// Lifecycle is the hub's callback boundary into the metadata store; it is
// narrowed to exactly what the hub needs so tests can stub it without a real
// database.
type Lifecycle interface {
	MarkGatewayConnected(ctx context.Context, gatewayID, version string, systemInfo json.RawMessage)
	MarkGatewayDisconnected(ctx context.Context, gatewayID string)
	TouchGatewayLastSeen(ctx context.Context, gatewayID string)
	UpdateSessionStatus(ctx context.Context, sessionID, status string)
}

// Hub owns all mutable state for one gateway identity. Every field below is
// touched only from the run loop goroutine; external callers communicate
// exclusively through the mailbox channel so that no mutex is needed.
type Hub struct {
	gatewayID string
	cfg       Config
	lifecycle Lifecycle
	replay    *replay.Manager

	mailbox chan event
	done    chan struct{}

	gatewaySocket *websocket.Conn
	subscribers   *subscriberSet
	pending       *pendingMap
	transfers     *transferMap
	sessionOf     map[*websocket.Conn]string // browser conn -> session id, for O(1) cleanup

	disconnectTimer *time.Timer
	closed          bool

	log *zap.Logger
}

// New constructs a Hub for gatewayID. Run must be started in its own
// goroutine before any attach/dispatch call is made.
func New(gatewayID string, cfg Config, lifecycle Lifecycle, replayMgr *replay.Manager) *Hub {
	cfg.setDefaults()
	return &Hub{
		gatewayID:   gatewayID,
		cfg:         cfg,
		lifecycle:   lifecycle,
		replay:      replayMgr,
		mailbox:     make(chan event, 64),
		done:        make(chan struct{}),
		subscribers: newSubscriberSet(),
		pending:     newPendingMap(),
		transfers:   newTransferMap(),
		sessionOf:   make(map[*websocket.Conn]string),
		log:         logging.Logger().With(zap.String("gateway_id", gatewayID)),
	}
}

// event is the mailbox's sum type; exactly one field is set per instance,
// enforced by construction (each post* method below sets exactly one).
type event struct {
	attachGateway  *attachGatewayEvent
	attachBrowser  *attachBrowserEvent
	gatewayClosed  bool
	browserClosed  *websocket.Conn
	gatewayFrame   []byte
	gatewayText    []byte
	browserFrame   *browserFrameEvent
	browserText    *browserTextEvent
	sendCommand    *sendCommandEvent
	sendRealtime   *sendRealtimeEvent
	idleSweep      bool
	graceExpired   bool
	commandTimeout   string // request id
	registerTransfer *registerTransferEvent
	shutdown         chan struct{}
}

type registerTransferEvent struct {
	transferID string
	ch         chan transferEvent
	ready      chan<- error
}

type attachGatewayEvent struct {
	conn  *websocket.Conn
	ready chan<- error
}

type attachBrowserEvent struct {
	conn      *websocket.Conn
	sessionID string
	ready     chan<- error
}

type browserFrameEvent struct {
	conn    *websocket.Conn
	payload []byte
}

type browserTextEvent struct {
	conn    *websocket.Conn
	payload []byte
}

type sendCommandEvent struct {
	requestID string
	payload   []byte
	result    chan<- commandResult
}

type sendRealtimeEvent struct {
	payload []byte
}

type commandResult struct {
	payload []byte
	err     error
}

// sessionEnvelope extracts the session id carried by every session-scoped
// event type, so those events can be fanned out to the right subscribers
// without a full typed unmarshal.
type sessionEnvelope struct {
	SessionID string `json:"session_id"`
}

// transferEnvelope extracts the transfer id carried by file.content.* events
// for routing through the transfer map without a full typed unmarshal.
type transferEnvelope struct {
	TransferID string `json:"transfer_id"`
}

// Run drains the mailbox until Shutdown is called or ctx is cancelled. It
// must run in its own goroutine; this is the only goroutine that mutates Hub
// state, which is what lets every other method be a safe concurrent no-op
// past shutdown.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	metrics.ConnectedGateways.Inc()
	defer metrics.ConnectedGateways.Dec()

	sweep := time.NewTicker(h.cfg.IdleSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			h.doShutdown()
			return
		case <-sweep.C:
			h.onIdleSweep()
		case ev := <-h.mailbox:
			if h.handle(ctx, ev) {
				return
			}
		}
	}
}

// handle processes one event and returns true if the hub should stop.
func (h *Hub) handle(ctx context.Context, ev event) bool {
	switch {
	case ev.attachGateway != nil:
		h.onAttachGateway(ctx, ev.attachGateway)
	case ev.attachBrowser != nil:
		h.onAttachBrowser(ev.attachBrowser)
	case ev.gatewayClosed:
		h.onGatewayClosed()
	case ev.browserClosed != nil:
		h.onBrowserClosed(ev.browserClosed)
	case ev.gatewayFrame != nil:
		h.onGatewayFrame(ev.gatewayFrame)
	case ev.gatewayText != nil:
		h.onGatewayText(ctx, ev.gatewayText)
	case ev.browserFrame != nil:
		h.onBrowserFrame(ev.browserFrame)
	case ev.browserText != nil:
		h.onBrowserText(ev.browserText)
	case ev.sendCommand != nil:
		h.onSendCommand(ev.sendCommand)
	case ev.sendRealtime != nil:
		h.onSendRealtime(ev.sendRealtime)
	case ev.idleSweep:
		h.onIdleSweep()
	case ev.graceExpired:
		h.onGraceExpired(ctx)
	case ev.commandTimeout != "":
		h.pending.timeout(ev.commandTimeout)
	case ev.registerTransfer != nil:
		h.transfers.register(ev.registerTransfer.transferID, ev.registerTransfer.ch)
		ev.registerTransfer.ready <- nil
	case ev.shutdown != nil:
		h.doShutdown()
		close(ev.shutdown)
		return true
	}
	return false
}

// onAttachGateway installs conn as the hub's gateway socket, displacing any
// previous connection (a reconnecting gateway always wins over its stale
// predecessor rather than being rejected).
func (h *Hub) onAttachGateway(ctx context.Context, ev *attachGatewayEvent) {
	if h.gatewaySocket != nil {
		closeWithCode(h.gatewaySocket, closeCodeReplaced, "replaced by a newer gateway connection")
	}
	h.gatewaySocket = ev.conn
	if h.disconnectTimer != nil {
		h.disconnectTimer.Stop()
		h.disconnectTimer = nil
	}
	ev.ready <- nil
}

// onAttachBrowser registers a browser subscriber, immediately pushes any
// buffered replay for its session so a late attach sees recent output while
// waiting, and proactively asks the gateway for a fresh snapshot per
// §4.1.2 — that reply is not awaited here; it arrives later as a
// session.snapshot event and reaches this subscriber through the normal
// fan-out in onGatewayText.
func (h *Hub) onAttachBrowser(ev *attachBrowserEvent) {
	h.subscribers.add(ev.conn, ev.sessionID)
	h.sessionOf[ev.conn] = ev.sessionID
	if h.replay != nil {
		for _, chunk := range h.replay.For(ev.sessionID).ReadAll() {
			if err := ev.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				h.log.Debug("replay push failed", zap.Error(err))
				break
			}
		}
	}
	h.requestSnapshot(ev.sessionID)
	ev.ready <- nil
}

// requestSnapshot fires a session.snapshot command at the gateway without
// registering a waiter for the reply: no caller is blocked on this request,
// and the resulting session.snapshot event reaches every subscriber of the
// session (including the one that just attached) through the ordinary
// gateway-event fan-out path.
func (h *Hub) requestSnapshot(sessionID string) {
	if h.gatewaySocket == nil {
		return
	}
	requestID, err := util.New()
	if err != nil {
		h.log.Warn("failed to mint snapshot request id", zap.Error(err))
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":           string(wire.CmdSessionSnapshot),
		"schema_version": wire.SchemaVersion,
		"request_id":     requestID,
		"session_id":     sessionID,
	})
	if err != nil {
		return
	}
	if err := h.gatewaySocket.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Warn("snapshot request write failed", zap.Error(err))
	}
}

// onGatewayClosed detaches the gateway socket, synchronously fails every
// pending command (an HTTP caller should not wait out the grace period for
// something that has already observably failed), and arms the disconnect
// grace timer before persisting the gateway as down.
func (h *Hub) onGatewayClosed() {
	h.gatewaySocket = nil
	h.pending.rejectAll(ErrGatewayDisconnected)
	h.transfers.closeAll()
	metrics.GatewayDisconnectsTotal.Inc()

	if h.disconnectTimer != nil {
		h.disconnectTimer.Stop()
	}
	h.disconnectTimer = time.AfterFunc(h.cfg.DisconnectGrace, h.postGraceExpired)
}

func (h *Hub) onBrowserClosed(conn *websocket.Conn) {
	h.subscribers.remove(conn)
	delete(h.sessionOf, conn)
}

// onGatewayFrame decodes a binary terminal frame, buffers it for replay, and
// fans it out to every browser attached to that session.
func (h *Hub) onGatewayFrame(payload []byte) {
	frame, err := wire.DecodeFrame(payload)
	if err != nil {
		h.log.Warn("dropping malformed terminal frame", zap.Error(err))
		return
	}
	metrics.FramesRoutedTotal.WithLabelValues("gateway_to_browser").Inc()
	if h.replay != nil {
		if err := h.replay.For(frame.SessionID).Write(payload); err != nil {
			h.log.Debug("replay write failed", zap.Error(err))
		}
	}
	h.subscribers.sendBinary(frame.SessionID, payload)
}

// onGatewayText handles a JSON control message from the gateway: it resolves
// or rejects any pending command sharing the message's request id, and
// additionally forwards session-scoped events to that session's browser
// subscribers since the UI needs them regardless of whether an HTTP caller
// is also waiting on the same request id.
func (h *Hub) onGatewayText(ctx context.Context, payload []byte) {
	msgType, requestID, err := wire.ParseType(payload)
	if err != nil {
		h.log.Warn("dropping malformed gateway message", zap.Error(err))
		return
	}

	switch wire.EventType(msgType) {
	case wire.EvtGatewayHello:
		var hello wire.GatewayHello
		if err := json.Unmarshal(payload, &hello); err != nil {
			return
		}
		// The router already verified the bearer token for h.gatewayID before
		// routing this connection here; the hello's own claimed id must match
		// that pinned identity or this gateway is impersonating another one.
		// No state is mutated on mismatch.
		if hello.GatewayID != h.gatewayID {
			h.log.Warn("gateway hello identity mismatch", zap.String("claimed", hello.GatewayID))
			closeWithCode(h.gatewaySocket, websocket.ClosePolicyViolation, "gateway_id mismatch")
			h.gatewaySocket = nil
			return
		}
		var sysInfo json.RawMessage
		if hello.SystemInfo != nil {
			sysInfo, _ = json.Marshal(hello.SystemInfo)
		}
		h.lifecycle.MarkGatewayConnected(ctx, h.gatewayID, hello.Version, sysInfo)
		return
	case wire.EvtGatewayHealth:
		h.lifecycle.TouchGatewayLastSeen(ctx, h.gatewayID)
		return
	case wire.EvtAck:
		var ack wire.Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			return
		}
		if ack.OK {
			h.pending.resolve(ack.RequestID, payload)
		} else {
			h.pending.reject(ack.RequestID, NewError(CodeCommandFailed, ack.Error))
		}
		return
	case wire.EvtSessionStarted, wire.EvtSessionEnded, wire.EvtSessionError, wire.EvtSessionSnapshot:
		if requestID != "" {
			h.pending.resolve(requestID, payload)
		}
		var se sessionEnvelope
		if err := json.Unmarshal(payload, &se); err == nil && se.SessionID != "" {
			if status, ok := sessionStatusFor(wire.EventType(msgType)); ok {
				h.lifecycle.UpdateSessionStatus(ctx, se.SessionID, status)
			}
			h.subscribers.sendText(se.SessionID, payload)
		}
		return
	case wire.EvtFileContentBeg, wire.EvtFileContentChk, wire.EvtFileContentEnd:
		var te transferEnvelope
		if err := json.Unmarshal(payload, &te); err != nil || te.TransferID == "" {
			return
		}
		h.transfers.dispatch(te.TransferID, transferEvent{
			eventType: msgType,
			payload:   payload,
			terminal:  wire.EventType(msgType) == wire.EvtFileContentEnd,
		})
		return
	default:
		if requestID != "" {
			h.pending.resolve(requestID, payload)
		}
	}
}

// onBrowserFrame relays a binary frame typed by a browser (terminal input)
// straight through to the gateway, tagged with the session the browser
// attached under.
func (h *Hub) onBrowserFrame(ev *browserFrameEvent) {
	if h.gatewaySocket == nil {
		return
	}
	metrics.FramesRoutedTotal.WithLabelValues("browser_to_gateway").Inc()
	if err := h.gatewaySocket.WriteMessage(websocket.BinaryMessage, ev.payload); err != nil {
		h.log.Warn("write to gateway failed", zap.Error(err))
	}
	h.subscribers.touch(ev.conn)
}

// onBrowserText dispatches a JSON control message from a browser by its type
// discriminator, per §4.1.2: session.input/resize/ack relay fire-and-forget
// to the gateway, ping gets an immediate pong, and anything else (including
// malformed JSON) gets a structured error reply with the socket left open.
func (h *Hub) onBrowserText(ev *browserTextEvent) {
	h.subscribers.touch(ev.conn)

	msgType, _, err := wire.ParseType(ev.payload)
	if err != nil {
		h.replyBrowserError(ev.conn, string(CodeInvalidPayload))
		return
	}

	switch wire.CommandType(msgType) {
	case wire.CmdSessionInput, wire.CmdSessionResize, wire.CmdSessionAck:
		if h.gatewaySocket == nil {
			return
		}
		if err := h.gatewaySocket.WriteMessage(websocket.TextMessage, ev.payload); err != nil {
			h.log.Warn("write to gateway failed", zap.Error(err))
		}
	case "ping":
		pong, _ := json.Marshal(map[string]string{"type": "pong"})
		if err := ev.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
			h.log.Debug("pong write failed", zap.Error(err))
		}
	default:
		h.replyBrowserError(ev.conn, "unknown_type")
	}
}

// replyBrowserError writes a structured {type:"error"} frame back to a
// browser socket without closing it, for recoverable per-message problems.
func (h *Hub) replyBrowserError(conn *websocket.Conn, code string) {
	frame, _ := json.Marshal(map[string]string{"type": "error", "code": code})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		h.log.Debug("error reply write failed", zap.Error(err))
	}
}

// onSendCommand registers a pending waiter and relays payload to the
// gateway, arming a timeout timer that posts back into the mailbox rather
// than rejecting directly, so the rejection still happens on the run loop.
func (h *Hub) onSendCommand(ev *sendCommandEvent) {
	if h.gatewaySocket == nil {
		ev.result <- commandResult{err: ErrGatewayDisconnected}
		return
	}
	if !h.pending.register(ev.requestID, ev.result) {
		ev.result <- commandResult{err: ErrDuplicateRequestID}
		return
	}
	metrics.PendingCommands.Set(float64(h.pending.len()))

	if err := h.gatewaySocket.WriteMessage(websocket.TextMessage, ev.payload); err != nil {
		h.pending.reject(ev.requestID, NewError(CodeGatewayDisconnected, err.Error()))
		return
	}

	requestID := ev.requestID
	time.AfterFunc(h.cfg.CommandTimeout, func() { h.postCommandTimeout(requestID) })
}

// onSendRealtime writes payload to the gateway without tracking a reply;
// used for high-frequency, ack-free traffic like keystrokes.
func (h *Hub) onSendRealtime(ev *sendRealtimeEvent) {
	if h.gatewaySocket == nil {
		return
	}
	if err := h.gatewaySocket.WriteMessage(websocket.TextMessage, ev.payload); err != nil {
		h.log.Warn("realtime write to gateway failed", zap.Error(err))
	}
}

func (h *Hub) onIdleSweep() {
	h.subscribers.sweep(h.cfg.IdleThreshold)
}

// onGraceExpired persists the gateway as disconnected once DisconnectGrace
// has elapsed without a reattach.
func (h *Hub) onGraceExpired(ctx context.Context) {
	if h.gatewaySocket != nil {
		return // reattached before the timer fired
	}
	h.lifecycle.MarkGatewayDisconnected(ctx, h.gatewayID)
}

func (h *Hub) doShutdown() {
	if h.closed {
		return
	}
	h.closed = true
	if h.gatewaySocket != nil {
		closeWithCode(h.gatewaySocket, websocket.CloseGoingAway, "hub shutting down")
		h.gatewaySocket = nil
	}
	h.subscribers.closeAll()
	h.pending.rejectAll(ErrGatewayDisconnected)
	h.transfers.closeAll()
	if h.disconnectTimer != nil {
		h.disconnectTimer.Stop()
	}
}

// closeCodeReplaced is a private-use WebSocket close code (RFC 6455 §7.4.2
// reserves 4000-4999 for applications) signaling that a gateway connection
// was displaced by a newer one for the same gateway id, not a protocol error.
const closeCodeReplaced = 4000

// closeWithCode sends a close frame with code and reason before tearing
// down conn, best-effort: a write failure here just means the peer is
// already gone, which is the outcome we wanted anyway.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// sessionStatusFor maps a gateway-emitted session event type to the
// persistent session status it implies, per spec §4.1.1. session.snapshot
// carries no status transition of its own.
func sessionStatusFor(evt wire.EventType) (string, bool) {
	switch evt {
	case wire.EvtSessionStarted:
		return "running", true
	case wire.EvtSessionEnded:
		return "ended", true
	case wire.EvtSessionError:
		return "error", true
	default:
		return "", false
	}
}

// postGraceExpired and postCommandTimeout are called from time.AfterFunc's
// own goroutine, never from the run loop, so they must go through the
// mailbox like any external caller.
func (h *Hub) postGraceExpired() {
	select {
	case h.mailbox <- event{graceExpired: true}:
	case <-h.done:
	}
}

func (h *Hub) postCommandTimeout(requestID string) {
	select {
	case h.mailbox <- event{commandTimeout: requestID}:
	case <-h.done:
	}
}

// Shutdown stops the hub's run loop and releases every connection. It blocks
// until the run loop has finished processing the shutdown event.
func (h *Hub) Shutdown() {
	done := make(chan struct{})
	select {
	case h.mailbox <- event{shutdown: done}:
		select {
		case <-done:
		case <-h.done:
		}
	case <-h.done:
	}
}
