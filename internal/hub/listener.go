package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/reconcile"
	"github.com/tangramhq/gatewayhub/internal/store"
	"github.com/tangramhq/gatewayhub/internal/util"
	"github.com/tangramhq/gatewayhub/internal/wire"
	"go.uber.org/zap"
)

// Listener is the hub's HTTP+WebSocket front door: it authenticates
// gateways and browsers, upgrades their connections, and exposes thin REST
// wrappers over the per-hub command entrypoint, adapted from the teacher's
// internal/gateway/listener.go.
type Listener struct {
	router   *Router
	auth     *Authenticator
	db       *store.Store
	recon    *reconcile.Reconciler
	upgrader websocket.Upgrader
	cfg      ListenerConfig
}

// NewListener wires a Listener from its collaborators.
func NewListener(router *Router, auth *Authenticator, db *store.Store, recon *reconcile.Reconciler, cfg ListenerConfig) *Listener {
	return &Listener{
		router: router,
		auth:   auth,
		db:     db,
		recon:  recon,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes registers every HTTP endpoint on a fresh mux.Router.
func (l *Listener) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/gw/connect/{gateway_id}", l.handleGatewayConnect).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host_id}/terminal", l.handleBrowserAttach).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host_id}/sessions", l.handleSessionCreate).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/sessions/{session_id}/end", l.handleSessionEnd).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/sessions/{session_id}/snapshot", l.handleSessionSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/ssh-keys", l.handleSSHAuthorize).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/ssh-keys", l.handleSSHList).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host_id}/ssh-keys/{fingerprint}", l.handleSSHRevoke).Methods(http.MethodDelete)
	r.HandleFunc("/hosts/{host_id}", l.handleHostDelete).Methods(http.MethodDelete)
	r.HandleFunc("/hosts/{host_id}/files", l.handleFileUpload).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/files", l.handleFileDownload).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (l *Listener) handleGatewayConnect(w http.ResponseWriter, r *http.Request) {
	gatewayID := mux.Vars(r)["gateway_id"]
	if _, err := l.auth.AuthenticateGateway(r.Context(), r, gatewayID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Sugar().Warnw("gateway upgrade failed", "gateway_id", gatewayID, "err", err)
		return
	}
	// Text ceiling governs gateway.hello/health/ack/event JSON; binary
	// frames (terminal output) have their own, smaller ceiling, so the
	// connection-wide limit must cover the larger of the two.
	conn.SetReadLimit(int64(maxOf(l.cfg.MaxTextBytes, l.cfg.MaxBinaryBytes)))

	h := l.router.HubFor(context.Background(), gatewayID)
	if err := h.AttachGateway(conn); err != nil {
		_ = conn.Close()
		return
	}
	go l.pumpGateway(h, conn)
}

// pumpGateway reads frames off the gateway socket until it closes, handing
// each to the hub for decoding and fan-out. An oversized message (beyond the
// connection's SetReadLimit ceiling) ends the read loop the same as any
// other transport error: per spec the gateway is a trusted peer so we only
// log, but the underlying transport can't resume mid-frame once its limit
// trips, so in practice "drop and ignore" becomes "drop and reconnect".
func (l *Listener) pumpGateway(h *Hub, conn *websocket.Conn) {
	defer h.GatewayClosed()
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if isReadLimitExceeded(err) {
				logging.Sugar().Warnw("gateway message exceeded size ceiling, dropping connection", "err", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if l.cfg.MaxBinaryBytes > 0 && len(payload) > l.cfg.MaxBinaryBytes {
				logging.Sugar().Warnw("dropping oversized terminal frame", "bytes", len(payload))
				continue
			}
			h.DispatchGatewayFrame(payload)
		case websocket.TextMessage:
			h.DispatchGatewayText(payload)
		}
	}
}

func (l *Listener) handleBrowserAttach(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, NewError(CodeInvalidPayload, "session_id is required"))
		return
	}

	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}
	gw, err := l.db.GetGatewayByHostID(r.Context(), hostID)
	if err != nil {
		writeError(w, NewError(CodeNotFound, "no gateway bound to this host"))
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Sugar().Warnw("browser upgrade failed", "host_id", hostID, "err", err)
		return
	}

	conn.SetReadLimit(int64(l.cfg.MaxTextBytes))

	h := l.router.HubFor(r.Context(), gw.ID)
	if err := h.AttachBrowser(conn, sessionID); err != nil {
		_ = conn.Close()
		return
	}
	go l.pumpBrowser(h, conn)
}

// pumpBrowser reads frames off a browser socket until it closes: binary
// frames are terminal input relayed straight through, text frames are JSON
// control messages (e.g. resize) relayed as-is. A message over the text
// ceiling gets a structured error and a policy-violation close, per §4.1.2.
func (l *Listener) pumpBrowser(h *Hub, conn *websocket.Conn) {
	defer h.BrowserClosed(conn)
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if isReadLimitExceeded(err) {
				errFrame, _ := json.Marshal(map[string]string{"type": "error", "code": string(CodePayloadTooLarge)})
				_ = conn.WriteMessage(websocket.TextMessage, errFrame)
				closeWithCode(conn, websocket.ClosePolicyViolation, "payload too large")
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.DispatchBrowserFrame(conn, payload)
		case websocket.TextMessage:
			h.DispatchBrowserText(conn, payload)
		}
	}
}

// command resolves the hub bound to hostID's gateway, issues a command with
// a freshly minted request id, and returns its raw JSON reply.
func (l *Listener) command(ctx context.Context, hostID string, msgType wire.CommandType, fields map[string]interface{}) ([]byte, error) {
	gw, err := l.db.GetGatewayByHostID(ctx, hostID)
	if err != nil {
		return nil, NewError(CodeNotFound, "no gateway bound to this host")
	}

	requestID, err := util.New()
	if err != nil {
		return nil, NewError(CodeCommandFailed, "failed to mint request id")
	}

	fields["type"] = msgType
	fields["request_id"] = requestID
	fields["schema_version"] = wire.SchemaVersion
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, NewError(CodeInvalidPayload, "failed to encode command")
	}

	h := l.router.HubFor(ctx, gw.ID)
	cctx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout+time.Second)
	defer cancel()
	return h.SendCommand(cctx, requestID, payload)
}

func (l *Listener) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Title       string          `json:"title"`
		Workdir     string          `json:"workdir"`
		AgentType   string          `json:"agent_type"`
		AgentConfig json.RawMessage `json:"agent_config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, NewError(CodeInvalidPayload, "invalid JSON body"))
		return
	}

	sessionID, err := util.New()
	if err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to mint session id"))
		return
	}
	if _, err := l.db.CreateSession(r.Context(), store.CreateSessionParams{
		HostID:    hostID,
		SessionID: sessionID,
		UserID:    userID,
		Name:      body.Title,
		Workdir:   body.Workdir,
		Agent:     body.AgentType,
	}); err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to persist session"))
		return
	}

	reply, err := l.command(r.Context(), hostID, wire.CmdSessionCreate, map[string]interface{}{
		"session_id":   sessionID,
		"name":         body.Title,
		"workdir":      body.Workdir,
		"agent":        body.AgentType,
		"agent_config": body.AgentConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = reply

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID, "status": "starting"})
}

func (l *Listener) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	sessionID := mux.Vars(r)["session_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	if _, err := l.command(r.Context(), hostID, wire.CmdSessionEnd, map[string]interface{}{
		"session_id": sessionID,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (l *Listener) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	sessionID := mux.Vars(r)["session_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	reply, err := l.command(r.Context(), hostID, wire.CmdSessionSnapshot, map[string]interface{}{
		"session_id": sessionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}

func (l *Listener) handleSSHAuthorize(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		PublicKey string `json:"public_key"`
		Label     string `json:"label"`
		Kind      string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, NewError(CodeInvalidPayload, "invalid JSON body"))
		return
	}
	if body.Kind == "" {
		body.Kind = string(store.AuthorizedKeyKindUser)
	}

	reply, err := l.command(r.Context(), hostID, wire.CmdSSHAuthorize, map[string]interface{}{
		"public_key": body.PublicKey,
		"label":      body.Label,
		"kind":       body.Kind,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}

func (l *Listener) handleSSHRevoke(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	fingerprint := mux.Vars(r)["fingerprint"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	if _, err := l.command(r.Context(), hostID, wire.CmdSSHRevoke, map[string]interface{}{
		"fingerprint": fingerprint,
	}); err != nil {
		writeError(w, err)
		return
	}
	if err := l.db.DeleteAuthorizedKey(r.Context(), hostID, fingerprint); err != nil {
		logging.Sugar().Warnw("delete authorized key record", "host_id", hostID, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (l *Listener) handleSSHList(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}

	reply, err := l.command(r.Context(), hostID, wire.CmdSSHList, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}

// handleHostDelete implements the cloud-first destroy scenario: it marks the
// host deleting, tears down its hub instance, attempts the provider delete,
// and only cascades the metadata rows on provider success. A provider
// failure leaves the host in `deleting` for the next reconciliation pass to
// retry, rather than losing track of the cloud resource.
func (l *Listener) handleHostDelete(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	host, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := l.db.UpdateHostStatus(r.Context(), hostID, store.HostStatusDeleting); err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to mark host deleting"))
		return
	}

	if gw, err := l.db.GetGatewayByHostID(r.Context(), hostID); err == nil {
		l.router.Evict(gw.ID)
	}

	if err := l.recon.DeleteHostNow(r.Context(), *host); err != nil {
		writeError(w, NewError(CodeProviderFailure, "provider delete failed, will retry"))
		return
	}

	if err := l.db.DeleteHostCascade(r.Context(), hostID); err != nil {
		writeError(w, NewError(CodeCommandFailed, "cascade delete failed"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// uploadChunkSize bounds how much of the request body is base64-encoded and
// sent per file.upload.chunk command, keeping each JSON frame well under
// max_text_bytes.
const uploadChunkSize = 48 * 1024

// handleFileUpload streams the request body to the gateway as a
// file.upload.begin/chunk*/end command sequence, each leg ack-tracked
// through the normal command discipline (spec §6 file.upload.*).
func (l *Listener) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}
	destPath := r.URL.Query().Get("dest_path")
	if destPath == "" {
		writeError(w, NewError(CodeInvalidPayload, "dest_path is required"))
		return
	}

	transferID, err := util.New()
	if err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to mint transfer id"))
		return
	}

	if _, err := l.command(r.Context(), hostID, wire.CmdFileUploadBegin, map[string]interface{}{
		"transfer_id": transferID,
		"dest_path":   destPath,
	}); err != nil {
		writeError(w, err)
		return
	}

	buf := make([]byte, uploadChunkSize)
	seq := 0
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			if _, err := l.command(r.Context(), hostID, wire.CmdFileUploadChunk, map[string]interface{}{
				"transfer_id": transferID,
				"seq":         seq,
				"data":        base64.StdEncoding.EncodeToString(buf[:n]),
			}); err != nil {
				writeError(w, err)
				return
			}
			seq++
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			writeError(w, NewError(CodeInvalidPayload, "failed to read upload body"))
			return
		}
	}

	if _, err := l.command(r.Context(), hostID, wire.CmdFileUploadEnd, map[string]interface{}{
		"transfer_id": transferID,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transfer_id": transferID, "status": "complete"})
}

// handleFileDownload issues a file.download command and relays the
// resulting file.content.begin/chunk/end stream straight to the HTTP
// response, registering the transfer route before the command is sent so no
// early chunk can race ahead of the registration (spec §4.1.1 transfer
// routing map).
func (l *Listener) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	userID, err := l.auth.AuthenticateBrowser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := l.auth.AuthorizeHostOwner(r.Context(), userID, hostID); err != nil {
		writeError(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, NewError(CodeInvalidPayload, "path is required"))
		return
	}

	gw, err := l.db.GetGatewayByHostID(r.Context(), hostID)
	if err != nil {
		writeError(w, NewError(CodeNotFound, "no gateway bound to this host"))
		return
	}
	transferID, err := util.New()
	if err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to mint transfer id"))
		return
	}
	requestID, err := util.New()
	if err != nil {
		writeError(w, NewError(CodeCommandFailed, "failed to mint request id"))
		return
	}

	h := l.router.HubFor(r.Context(), gw.ID)
	ch, err := h.RegisterTransfer(r.Context(), transferID)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":           wire.CmdFileDownload,
		"request_id":     requestID,
		"schema_version": wire.SchemaVersion,
		"transfer_id":    transferID,
		"path":           path,
	})
	if err != nil {
		writeError(w, NewError(CodeInvalidPayload, "failed to encode command"))
		return
	}
	cctx, cancel := context.WithTimeout(r.Context(), l.cfg.CommandTimeout+time.Second)
	defer cancel()
	if _, err := h.SendCommand(cctx, requestID, payload); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	flusher, _ := w.(http.Flusher)
	for rawEvt := range ch {
		switch wire.EventType(rawEvt.eventType) {
		case wire.EvtFileContentChk:
			var chunk wire.FileContentChunk
			if err := json.Unmarshal(rawEvt.payload, &chunk); err != nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(chunk.Data)
			if err != nil {
				continue
			}
			_, _ = w.Write(data)
			if flusher != nil {
				flusher.Flush()
			}
		case wire.EvtFileContentEnd:
			return
		}
	}
}

// isReadLimitExceeded reports whether err came from gorilla/websocket's
// SetReadLimit tripping mid-message; gorilla does not export a sentinel for
// this, so matching its documented wording is the idiomatic check.
func isReadLimitExceeded(err error) bool {
	return strings.Contains(err.Error(), "read limit exceeded")
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	logging.Logger().Debug("request failed", zap.Error(err), zap.Int("status", status))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
