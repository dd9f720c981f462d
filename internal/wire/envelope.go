package wire

import (
	"encoding/json"
	"time"
)

// SchemaVersion is advertised on every outbound event so clients can detect
// a protocol skew before they try to parse fields that do not exist yet.
const SchemaVersion = 1

// CommandType enumerates JSON commands the hub accepts, either from a
// browser-facing HTTP command entrypoint or relayed toward the gateway.
type CommandType string

const (
	CmdSessionCreate   CommandType = "session.create"
	CmdSessionInput    CommandType = "session.input"
	CmdSessionResize   CommandType = "session.resize"
	CmdSessionAck      CommandType = "session.ack"
	CmdSessionEnd      CommandType = "session.end"
	CmdSessionSnapshot CommandType = "session.snapshot"
	CmdSSHAuthorize    CommandType = "ssh.authorize"
	CmdSSHRevoke       CommandType = "ssh.revoke"
	CmdSSHList         CommandType = "ssh.list"
	CmdFileUploadBegin CommandType = "file.upload.begin"
	CmdFileUploadChunk CommandType = "file.upload.chunk"
	CmdFileUploadEnd   CommandType = "file.upload.end"
	CmdFileDownload    CommandType = "file.download"
	CmdFileCancel      CommandType = "file.cancel"
	CmdAgentsInstall   CommandType = "agents.install"
	CmdGatewayUpdate   CommandType = "gateway.update"
)

// EventType enumerates JSON events the hub emits toward the gateway or
// toward attached browsers.
type EventType string

const (
	EvtAck             EventType = "ack"
	EvtGatewayHello    EventType = "gateway.hello"
	EvtGatewayHealth   EventType = "gateway.health"
	EvtSessionStarted  EventType = "session.started"
	EvtSessionEnded    EventType = "session.ended"
	EvtSessionError    EventType = "session.error"
	EvtSessionSnapshot EventType = "session.snapshot"
	EvtSSHKeys         EventType = "ssh.keys"
	EvtFileContentBeg  EventType = "file.content.begin"
	EvtFileContentChk  EventType = "file.content.chunk"
	EvtFileContentEnd  EventType = "file.content.end"
	EvtAgentInstalled  EventType = "agent.installed"
	EvtGatewayUpdated  EventType = "gateway.updated"
)

// Envelope is the common header every JSON command/event carries. Handlers
// unmarshal into Envelope first to dispatch on Type, then re-unmarshal the
// raw bytes into the concrete payload type.
type Envelope struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Ack acknowledges or rejects a previously dispatched command.
type Ack struct {
	Type          EventType `json:"type"`
	SchemaVersion int       `json:"schema_version"`
	RequestID     string    `json:"request_id"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
}

// NewAck builds an ack/reject event envelope.
func NewAck(requestID string, ok bool, errMsg string) Ack {
	return Ack{Type: EvtAck, SchemaVersion: SchemaVersion, RequestID: requestID, OK: ok, Error: errMsg}
}

// GatewayHello is sent by the gateway once per connection (including after
// every reconnect) and mirrors what the hub persists onto the gateways row.
type GatewayHello struct {
	Type       EventType   `json:"type"`
	GatewayID  string      `json:"gateway_id"`
	Version    string      `json:"version"`
	Hostname   string      `json:"hostname"`
	GoVersion  string      `json:"go_version"`
	SystemInfo *SystemInfo `json:"system_info,omitempty"`
}

// SystemInfo is the optional, richer hardware block a gateway may include in
// its hello; it is persisted as JSONB for operational dashboards but never
// required for correctness.
type SystemInfo struct {
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	CPUs           int    `json:"cpus"`
	RAMTotalBytes  int64  `json:"ram_total_bytes"`
	DiskTotalBytes int64  `json:"disk_total_bytes"`
}

// GatewayHealth is sent by the gateway on a fixed interval.
type GatewayHealth struct {
	Type            EventType        `json:"type"`
	GatewayID       string           `json:"gateway_id"`
	Timestamp       time.Time        `json:"timestamp"`
	CPUPercent      float64          `json:"cpu_percent"`
	RAMUsedBytes    int64            `json:"ram_used_bytes"`
	RAMTotalBytes   int64            `json:"ram_total_bytes"`
	DiskUsedBytes   int64            `json:"disk_used_bytes"`
	DiskTotalBytes  int64            `json:"disk_total_bytes"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	ActiveSessions  []ActiveSession  `json:"active_sessions"`
}

// ActiveSession is one entry in GatewayHealth.ActiveSessions.
type ActiveSession struct {
	SessionID      string    `json:"session_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionCreate requests a new terminal session on the host. Agent names
// which coding agent the gateway should launch into the PTY (e.g.
// "claude-code"); AgentConfig is an opaque, agent-specific settings blob
// passed through unmodified.
type SessionCreate struct {
	Type        CommandType       `json:"type"`
	RequestID   string            `json:"request_id"`
	SessionID   string            `json:"session_id"`
	Name        string            `json:"name,omitempty"`
	Workdir     string            `json:"workdir,omitempty"`
	Agent       string            `json:"agent"`
	AgentConfig json.RawMessage   `json:"agent_config,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// SessionInput carries base64-encoded keystrokes bound for the PTY; bulk
// terminal output flows over the binary frame channel instead, but input is
// small and infrequent enough to ride the JSON channel alongside acks.
type SessionInput struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	SessionID string      `json:"session_id"`
	Data      string      `json:"data"`
}

// SessionResize changes the PTY window size.
type SessionResize struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
	SessionID string      `json:"session_id"`
	Cols      int         `json:"cols"`
	Rows      int         `json:"rows"`
}

// SessionEnd terminates a session.
type SessionEnd struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
	SessionID string      `json:"session_id"`
}

// SessionStarted confirms a session.create.
type SessionStarted struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
}

// SessionEnded reports a session closing, with or without a prior
// session.end request.
type SessionEnded struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
}

// SessionError reports an out-of-band session failure (e.g. PTY spawn
// failed).
type SessionError struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Error     string    `json:"error"`
}

// SessionSnapshot carries the current terminal buffer contents, either
// pushed proactively by the gateway on reconnect or returned in response to
// a session.snapshot command.
type SessionSnapshot struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
}

// SSHAuthorize installs a temporary authorized_keys entry on the host. Kind
// distinguishes a key the owning user added themselves ("user") from one
// installed for a support engineer's temporary access ("support"); the
// gateway does not act on it, it is carried through for the host's audit
// trail and for the owner's key list to tell the two apart.
type SSHAuthorize struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
	PublicKey string      `json:"public_key"`
	Label     string      `json:"label,omitempty"`
	Kind      string      `json:"kind"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// SSHRevoke removes a previously authorized key by fingerprint.
type SSHRevoke struct {
	Type        CommandType `json:"type"`
	RequestID   string      `json:"request_id"`
	Fingerprint string      `json:"fingerprint"`
}

// SSHList requests the current authorized keys.
type SSHList struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
}

// SSHKeyEntry is one row in SSHKeys.Keys.
type SSHKeyEntry struct {
	Fingerprint string     `json:"fingerprint"`
	Label       string     `json:"label,omitempty"`
	Kind        string     `json:"kind"`
	Algorithm   string     `json:"algorithm"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// SSHKeys answers an ssh.list command.
type SSHKeys struct {
	Type      EventType     `json:"type"`
	RequestID string        `json:"request_id"`
	Keys      []SSHKeyEntry `json:"keys"`
}

// FileUploadBegin starts a chunked upload to the host.
type FileUploadBegin struct {
	Type        CommandType `json:"type"`
	RequestID   string      `json:"request_id"`
	TransferID  string      `json:"transfer_id"`
	DestPath    string      `json:"dest_path"`
	Size        int64       `json:"size"`
	TotalChunks int         `json:"total_chunks"`
}

// FileUploadChunk carries one base64-encoded chunk of an in-flight upload.
type FileUploadChunk struct {
	Type       CommandType `json:"type"`
	RequestID  string      `json:"request_id"`
	TransferID string      `json:"transfer_id"`
	Seq        int         `json:"seq"`
	Data       string      `json:"data"`
}

// FileUploadEnd finalizes an upload.
type FileUploadEnd struct {
	Type       CommandType `json:"type"`
	RequestID  string      `json:"request_id"`
	TransferID string      `json:"transfer_id"`
}

// FileDownload requests the host stream a file back to the browser.
type FileDownload struct {
	Type       CommandType `json:"type"`
	RequestID  string      `json:"request_id"`
	TransferID string      `json:"transfer_id"`
	Path       string      `json:"path"`
}

// FileCancel aborts an in-flight transfer.
type FileCancel struct {
	Type       CommandType `json:"type"`
	TransferID string      `json:"transfer_id"`
}

// FileContentBegin announces an incoming download stream.
type FileContentBegin struct {
	Type       EventType `json:"type"`
	RequestID  string    `json:"request_id"`
	TransferID string    `json:"transfer_id"`
	Size       int64     `json:"size"`
}

// FileContentChunk carries one chunk of a download stream.
type FileContentChunk struct {
	Type       EventType `json:"type"`
	TransferID string    `json:"transfer_id"`
	Seq        int       `json:"seq"`
	Data       string    `json:"data"`
}

// FileContentEnd closes a download stream.
type FileContentEnd struct {
	Type       EventType `json:"type"`
	TransferID string    `json:"transfer_id"`
}

// AgentsInstall requests the gateway install a coding-agent CLI on the host.
type AgentsInstall struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
	Agent     string      `json:"agent"`
}

// AgentInstalled confirms an agents.install command.
type AgentInstalled struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	Agent     string    `json:"agent"`
	Version   string    `json:"version"`
}

// GatewayUpdate instructs the gateway to self-update to a new binary.
type GatewayUpdate struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
	URL       string      `json:"url"`
	SHA256    string      `json:"sha256"`
	Version   string      `json:"version"`
}

// GatewayUpdated confirms a gateway.update command; it is best-effort since
// the process usually restarts immediately after sending it.
type GatewayUpdated struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	Version   string    `json:"version"`
}

// ParseType extracts the discriminator field and the request id from a raw
// JSON message, for dispatch before unmarshalling into a concrete type.
func ParseType(raw json.RawMessage) (string, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "", err
	}
	return env.Type, env.RequestID, nil
}
