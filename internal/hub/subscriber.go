package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/metrics"
)

// outboxDepth bounds each subscriber's buffered outbound queue, matching the
// teacher's own per-subscriber channel size in internal/gateway/server.go's
// Subscribe/StreamFlamegraphs.
const outboxDepth = 100

// outFrame is one queued write for a subscriber's writer goroutine.
type outFrame struct {
	msgType int
	payload []byte
}

// subscriberInfo tracks one attached browser connection. outbox decouples
// the hub's single run loop from this connection's TCP write speed: the run
// loop only ever enqueues into outbox, never calls conn.WriteMessage itself.
type subscriberInfo struct {
	sessionID    string
	lastActivity time.Time
	outbox       chan outFrame
}

// subscriberSet holds every browser connection attached to a hub, indexed by
// both connection and session id so that routing a frame and sweeping idle
// connections are both cheap. Only touched from the hub run loop.
type subscriberSet struct {
	byConn    map[*websocket.Conn]*subscriberInfo
	bySession map[string]map[*websocket.Conn]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{
		byConn:    make(map[*websocket.Conn]*subscriberInfo),
		bySession: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (s *subscriberSet) add(conn *websocket.Conn, sessionID string) {
	outbox := make(chan outFrame, outboxDepth)
	s.byConn[conn] = &subscriberInfo{sessionID: sessionID, lastActivity: time.Now(), outbox: outbox}
	set, ok := s.bySession[sessionID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		s.bySession[sessionID] = set
	}
	set[conn] = struct{}{}
	metrics.Subscribers.Inc()
	go writeLoop(conn, outbox)
}

// writeLoop is the only goroutine that ever calls conn.WriteMessage for this
// subscriber; it drains outbox until the set's remove() closes it. A write
// failure closes the connection, which unblocks pumpBrowser's read loop and
// drives cleanup back through the hub's run loop (BrowserClosed), so no
// subscriberSet state is touched from here.
func writeLoop(conn *websocket.Conn, outbox chan outFrame) {
	for frame := range outbox {
		if err := conn.WriteMessage(frame.msgType, frame.payload); err != nil {
			logging.Sugar().Debugw("subscriber write failed, closing", "err", err)
			_ = conn.Close()
			return
		}
	}
}

func (s *subscriberSet) remove(conn *websocket.Conn) {
	info, ok := s.byConn[conn]
	if !ok {
		return
	}
	delete(s.byConn, conn)
	if set, ok := s.bySession[info.sessionID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(s.bySession, info.sessionID)
		}
	}
	metrics.Subscribers.Dec()
	close(info.outbox)
	_ = conn.Close()
}

func (s *subscriberSet) touch(conn *websocket.Conn) {
	if info, ok := s.byConn[conn]; ok {
		info.lastActivity = time.Now()
	}
}

// sendBinary enqueues a binary frame for every subscriber of sessionID using
// a non-blocking try-send: a subscriber whose outbox is already full (a slow
// browser whose TCP write can't keep up) has this frame dropped rather than
// stalling the hub's single run loop for every other subscriber, the
// gateway link, and every pending command, grounded on the teacher's
// handleChunk's `select { case ch <- data: default: }` fan-out.
func (s *subscriberSet) sendBinary(sessionID string, payload []byte) {
	for _, info := range s.bySession[sessionID] {
		select {
		case info.outbox <- outFrame{msgType: websocket.BinaryMessage, payload: payload}:
		default:
			logging.Sugar().Debugw("drop frame to slow subscriber", "session_id", sessionID)
		}
	}
}

// sendText enqueues a JSON text frame for every subscriber of sessionID,
// same non-blocking discipline as sendBinary.
func (s *subscriberSet) sendText(sessionID string, payload []byte) {
	for _, info := range s.bySession[sessionID] {
		select {
		case info.outbox <- outFrame{msgType: websocket.TextMessage, payload: payload}:
		default:
			logging.Sugar().Debugw("drop text frame to slow subscriber", "session_id", sessionID)
		}
	}
}

// sweep evicts every subscriber whose lastActivity is older than threshold,
// closing each with a normal-closure code per §4.1.3.
func (s *subscriberSet) sweep(threshold time.Duration) {
	cutoff := time.Now().Add(-threshold)
	var stale []*websocket.Conn
	for conn, info := range s.byConn {
		if info.lastActivity.Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		metrics.IdleEvictionsTotal.Inc()
		closeWithCode(conn, websocket.CloseNormalClosure, "idle timeout")
		s.remove(conn)
	}
}

// closeAll disconnects every subscriber with a going-away close code, used
// on hub shutdown per §4.1.7.
func (s *subscriberSet) closeAll() {
	for conn := range s.byConn {
		closeWithCode(conn, websocket.CloseGoingAway, "hub shutting down")
		s.remove(conn)
	}
}

func (s *subscriberSet) count() int {
	return len(s.byConn)
}
