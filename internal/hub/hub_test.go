package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tangramhq/gatewayhub/internal/wire"
)

// fakeLifecycle records every call the hub makes into it, for assertions,
// without touching a real metadata store.
type fakeLifecycle struct {
	mu             sync.Mutex
	connected      []string
	disconnects    []string
	sessionStatus  map[string]string
}

func (f *fakeLifecycle) MarkGatewayConnected(ctx context.Context, gatewayID, version string, systemInfo json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, gatewayID)
}

func (f *fakeLifecycle) MarkGatewayDisconnected(ctx context.Context, gatewayID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, gatewayID)
}

func (f *fakeLifecycle) TouchGatewayLastSeen(ctx context.Context, gatewayID string) {}

func (f *fakeLifecycle) UpdateSessionStatus(ctx context.Context, sessionID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionStatus == nil {
		f.sessionStatus = make(map[string]string)
	}
	f.sessionStatus[sessionID] = status
}

// dialPair spins up an httptest server that upgrades every incoming request
// to a WebSocket and hands the server-side conn to onAccept, then dials a
// client conn against it and returns both ends plus a cleanup func.
func dialPair(t *testing.T, onAccept func(*websocket.Conn)) (client *websocket.Conn, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		onAccept(conn)
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("client dial: %v", err)
	}
	return client, func() {
		_ = client.Close()
		srv.Close()
	}
}

func newTestHub(t *testing.T) (*Hub, *fakeLifecycle, context.CancelFunc) {
	t.Helper()
	lc := &fakeLifecycle{}
	cfg := Config{
		CommandTimeout:    200 * time.Millisecond,
		IdleSweepInterval: time.Hour, // disabled for these tests
		IdleThreshold:     time.Hour,
		DisconnectGrace:   100 * time.Millisecond,
	}
	h := New("gw-test", cfg, lc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, lc, cancel
}

func TestAttachGatewayMarksLifecycleOnHello(t *testing.T) {
	h, lc, cancel := newTestHub(t)
	defer cancel()

	client, cleanup := dialPair(t, func(serverConn *websocket.Conn) {
		if err := h.AttachGateway(serverConn); err != nil {
			t.Errorf("AttachGateway: %v", err)
		}
		for {
			msgType, payload, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				h.DispatchGatewayText(payload)
			}
		}
	})
	defer cleanup()

	hello, _ := json.Marshal(wire.GatewayHello{Type: wire.EvtGatewayHello, GatewayID: "gw-test", Version: "1.2.3"})
	if err := client.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		lc.mu.Lock()
		n := len(lc.connected)
		lc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("lifecycle.MarkGatewayConnected was never called")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSendCommandResolvesOnAck(t *testing.T) {
	h, _, cancel := newTestHub(t)
	defer cancel()

	client, cleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachGateway(serverConn)
		for {
			_, payload, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			msgType, requestID, _ := wire.ParseType(payload)
			if msgType == string(wire.CmdSessionCreate) {
				ack, _ := json.Marshal(wire.NewAck(requestID, true, ""))
				_ = serverConn.WriteMessage(websocket.TextMessage, ack)
			}
		}
	})
	defer cleanup()
	_ = client

	payload, _ := json.Marshal(map[string]string{"type": string(wire.CmdSessionCreate), "request_id": "req-1", "session_id": "ses-1"})
	result, err := h.SendCommand(context.Background(), "req-1", payload)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	var ack wire.Ack
	if err := json.Unmarshal(result, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.OK {
		t.Fatal("expected ack.OK = true")
	}
}

func TestSendCommandFailsFastWithoutGateway(t *testing.T) {
	h, _, cancel := newTestHub(t)
	defer cancel()

	_, err := h.SendCommand(context.Background(), "req-1", []byte(`{}`))
	requireCode(t, err, CodeGatewayDisconnected)
}

func TestGatewayClosedRejectsPendingBeforeGraceExpires(t *testing.T) {
	h, lc, cancel := newTestHub(t)
	defer cancel()

	client, cleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachGateway(serverConn)
		// Never reply; close immediately to simulate a dropped link.
		_ = serverConn.Close()
		h.GatewayClosed()
	})
	defer cleanup()
	_ = client

	start := time.Now()
	_, err := h.SendCommand(context.Background(), "req-1", []byte(`{}`))
	elapsed := time.Since(start)

	requireCode(t, err, CodeGatewayDisconnected)
	if elapsed > 80*time.Millisecond {
		t.Fatalf("rejection took %v, should be synchronous with gateway close, well under the 100ms grace", elapsed)
	}

	// After the grace period elapses without a reattach, disconnect must be persisted.
	time.Sleep(200 * time.Millisecond)
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if len(lc.disconnects) == 0 {
		t.Fatal("MarkGatewayDisconnected was never called after grace expired")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	h, _, cancel := newTestHub(t)
	defer cancel()
	h.Shutdown()

	_, err := h.SendCommand(context.Background(), "req-1", []byte(`{}`))
	requireCode(t, err, CodeGatewayDisconnected)
}

func TestGatewayHelloIdentityMismatchClosesWithoutActivating(t *testing.T) {
	h, lc, cancel := newTestHub(t)
	defer cancel()

	closedCode := make(chan int, 1)
	client, cleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachGateway(serverConn)
		for {
			msgType, payload, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				h.DispatchGatewayText(payload)
			}
		}
	})
	defer cleanup()

	client.SetCloseHandler(func(code int, text string) error {
		closedCode <- code
		return nil
	})

	hello, _ := json.Marshal(wire.GatewayHello{Type: wire.EvtGatewayHello, GatewayID: "gw-other", Version: "1.0.0"})
	if err := client.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	// Drain so the close frame is actually read and the handler invoked.
	_, _, _ = client.ReadMessage()

	select {
	case code := <-closedCode:
		if code != websocket.ClosePolicyViolation {
			t.Fatalf("close code = %d, want %d (policy violation)", code, websocket.ClosePolicyViolation)
		}
	case <-time.After(time.Second):
		t.Fatal("gateway socket was never closed after identity mismatch")
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if len(lc.connected) != 0 {
		t.Fatalf("MarkGatewayConnected must not be called on identity mismatch, got %v", lc.connected)
	}
}

func TestFileDownloadTransferRoutesChunksToRegisteredListener(t *testing.T) {
	h, _, cancel := newTestHub(t)
	defer cancel()

	client, cleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachGateway(serverConn)
		for {
			_, payload, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			msgType, _, _ := wire.ParseType(payload)
			if msgType != string(wire.CmdFileDownload) {
				continue
			}
			var req struct {
				RequestID  string `json:"request_id"`
				TransferID string `json:"transfer_id"`
			}
			_ = json.Unmarshal(payload, &req)
			ack, _ := json.Marshal(wire.NewAck(req.RequestID, true, ""))
			_ = serverConn.WriteMessage(websocket.TextMessage, ack)

			chunk, _ := json.Marshal(wire.FileContentChunk{Type: wire.EvtFileContentChk, TransferID: req.TransferID, Seq: 0, Data: "aGVsbG8="})
			_ = serverConn.WriteMessage(websocket.TextMessage, chunk)
			end, _ := json.Marshal(wire.FileContentEnd{Type: wire.EvtFileContentEnd, TransferID: req.TransferID})
			_ = serverConn.WriteMessage(websocket.TextMessage, end)
		}
	})
	defer cleanup()
	_ = client

	ctx := context.Background()
	ch, err := h.RegisterTransfer(ctx, "xfer-1")
	if err != nil {
		t.Fatalf("RegisterTransfer: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"type": string(wire.CmdFileDownload), "request_id": "req-dl", "transfer_id": "xfer-1", "path": "/tmp/x",
	})
	if _, err := h.SendCommand(ctx, "req-dl", payload); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	var sawChunk, sawEnd bool
	for ev := range ch {
		switch wire.EventType(ev.eventType) {
		case wire.EvtFileContentChk:
			sawChunk = true
		case wire.EvtFileContentEnd:
			sawEnd = true
		}
	}
	if !sawChunk || !sawEnd {
		t.Fatalf("sawChunk=%v sawEnd=%v, want both true", sawChunk, sawEnd)
	}
}

func TestAttachBrowserRequestsFreshSnapshot(t *testing.T) {
	h, _, cancel := newTestHub(t)
	defer cancel()

	snapshotReqs := make(chan string, 4)
	gwClient, gwCleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachGateway(serverConn)
		for {
			_, payload, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			msgType, requestID, _ := wire.ParseType(payload)
			if msgType == string(wire.CmdSessionSnapshot) {
				snapshotReqs <- requestID
			}
		}
	})
	defer gwCleanup()
	_ = gwClient

	browserClient, browserCleanup := dialPair(t, func(serverConn *websocket.Conn) {
		_ = h.AttachBrowser(serverConn, "ses-1")
	})
	defer browserCleanup()
	_ = browserClient

	select {
	case requestID := <-snapshotReqs:
		if requestID == "" {
			t.Fatal("snapshot request carried an empty request id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a proactive session.snapshot request on attach")
	}
}

func requireCode(t *testing.T, err error, want Code) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want a *hub.Error with code %q", err, want)
	}
	if e.Code != want {
		t.Fatalf("code = %q, want %q", e.Code, want)
	}
}
