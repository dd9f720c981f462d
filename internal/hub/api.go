package hub

import (
	"context"

	"github.com/gorilla/websocket"
)

// AttachGateway installs conn as this hub's gateway socket. It blocks until
// the run loop has processed the attach.
func (h *Hub) AttachGateway(conn *websocket.Conn) error {
	_, span := startSpan(context.Background(), "attach-gateway")
	defer span.End()

	ready := make(chan error, 1)
	select {
	case h.mailbox <- event{attachGateway: &attachGatewayEvent{conn: conn, ready: ready}}:
	case <-h.done:
		return ErrGatewayDisconnected
	}
	var err error
	select {
	case err = <-ready:
	case <-h.done:
		err = ErrGatewayDisconnected
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// AttachBrowser registers conn as a subscriber of sessionID and immediately
// replays any buffered output for that session.
func (h *Hub) AttachBrowser(conn *websocket.Conn, sessionID string) error {
	_, span := startSpan(context.Background(), "attach-browser")
	defer span.End()

	ready := make(chan error, 1)
	select {
	case h.mailbox <- event{attachBrowser: &attachBrowserEvent{conn: conn, sessionID: sessionID, ready: ready}}:
	case <-h.done:
		return ErrGatewayDisconnected
	}
	var err error
	select {
	case err = <-ready:
	case <-h.done:
		err = ErrGatewayDisconnected
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// GatewayClosed notifies the hub that its gateway socket's read loop has
// ended, whatever the reason.
func (h *Hub) GatewayClosed() {
	select {
	case h.mailbox <- event{gatewayClosed: true}:
	case <-h.done:
	}
}

// BrowserClosed notifies the hub that a browser connection's read loop has
// ended.
func (h *Hub) BrowserClosed(conn *websocket.Conn) {
	select {
	case h.mailbox <- event{browserClosed: conn}:
	case <-h.done:
	}
}

// DispatchGatewayFrame hands a binary frame read from the gateway socket to
// the run loop for decoding and fan-out.
func (h *Hub) DispatchGatewayFrame(payload []byte) {
	select {
	case h.mailbox <- event{gatewayFrame: payload}:
	case <-h.done:
	}
}

// DispatchGatewayText hands a JSON message read from the gateway socket to
// the run loop.
func (h *Hub) DispatchGatewayText(payload []byte) {
	select {
	case h.mailbox <- event{gatewayText: payload}:
	case <-h.done:
	}
}

// DispatchBrowserFrame hands a binary frame read from a browser socket
// (terminal input) to the run loop for relay to the gateway.
func (h *Hub) DispatchBrowserFrame(conn *websocket.Conn, payload []byte) {
	select {
	case h.mailbox <- event{browserFrame: &browserFrameEvent{conn: conn, payload: payload}}:
	case <-h.done:
	}
}

// DispatchBrowserText hands a JSON message read from a browser socket
// (e.g. resize) to the run loop for relay to the gateway.
func (h *Hub) DispatchBrowserText(conn *websocket.Conn, payload []byte) {
	select {
	case h.mailbox <- event{browserText: &browserTextEvent{conn: conn, payload: payload}}:
	case <-h.done:
	}
}

// SendCommand relays payload to the gateway and blocks until it is acked,
// rejected, or times out. It is safe to call from any goroutine, typically
// an HTTP handler.
func (h *Hub) SendCommand(ctx context.Context, requestID string, payload []byte) ([]byte, error) {
	ctx, span := startSpan(ctx, "send-command")
	defer span.End()

	result := make(chan commandResult, 1)
	select {
	case h.mailbox <- event{sendCommand: &sendCommandEvent{requestID: requestID, payload: payload, result: result}}:
	case <-h.done:
		span.RecordError(ErrGatewayDisconnected)
		return nil, ErrGatewayDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-result:
		if res.err != nil {
			span.RecordError(res.err)
		}
		return res.payload, res.err
	case <-h.done:
		select {
		case res := <-result:
			return res.payload, res.err
		default:
		}
		span.RecordError(ErrGatewayDisconnected)
		return nil, ErrGatewayDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterTransfer opens a route for transferID so subsequent
// file.content.begin/chunk/end events from the gateway are delivered on the
// returned channel until a terminal event closes it or ctx is cancelled.
// Callers must drain the channel; a caller that gives up early should still
// let it be garbage collected once the hub stops sending to it.
func (h *Hub) RegisterTransfer(ctx context.Context, transferID string) (<-chan transferEvent, error) {
	ch := make(chan transferEvent, 8)
	ready := make(chan error, 1)
	select {
	case h.mailbox <- event{registerTransfer: &registerTransferEvent{transferID: transferID, ch: ch, ready: ready}}:
	case <-h.done:
		return nil, ErrGatewayDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	case <-h.done:
		return nil, ErrGatewayDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ch, nil
}

// SendRealtime relays payload to the gateway without waiting for a reply.
func (h *Hub) SendRealtime(payload []byte) {
	select {
	case h.mailbox <- event{sendRealtime: &sendRealtimeEvent{payload: payload}}:
	case <-h.done:
	}
}

