package provider

import (
	"context"

	"github.com/finbot/pkg/entities"
)

// DisconnectReason is the canonical vocabulary both adapters translate their
// native close causes into. The registry's recovery policy keys off these.
type DisconnectReason string

const (
	ReasonLoggedOut            DisconnectReason = "logged_out"
	ReasonConnectionReplaced   DisconnectReason = "connection_replaced"
	ReasonConnectionClosed     DisconnectReason = "connection_closed"
	ReasonConnectionLost       DisconnectReason = "connection_lost"
	ReasonBadSession           DisconnectReason = "bad_session"
	ReasonTimedOut             DisconnectReason = "timed_out"
	ReasonRestartRequired      DisconnectReason = "restart_required"
	ReasonTemporaryBan         DisconnectReason = "temporary_ban"
	ReasonCorruptedCredentials DisconnectReason = "corrupted_credentials"
	ReasonTimeoutConnecting    DisconnectReason = "timeout_connecting"
	ReasonUnknown              DisconnectReason = "unknown"
)

// RawInboundMessage carries a platform-native message object untouched.
// Native's concrete shape is interpreted by the surrounding application, not
// by this core; only the routing fields are extracted here.
type RawInboundMessage struct {
	Platform entities.Platform
	ChatID   string
	SenderID string
	Native   interface{}
}

// Callbacks is the event contract an adapter fires into. Every handler is
// optional; adapters must nil-check before invoking.
type Callbacks struct {
	OnQR               func(code string)
	OnConnected        func()
	OnDisconnected     func(reason DisconnectReason)
	OnConnectionUpdate func(status entities.Status, reason DisconnectReason, shouldReconnect bool)
	OnMessage          func(msg RawInboundMessage)
	OnError            func(err error)
	OnCredsUpdate      func(state CredentialState)
}

// CredentialState is the structured auth material an adapter reports when
// the driver rotates its credentials. For telegram it is just the token; for
// whatsapp it is the registration snapshot of the paired device. The
// credential store owns the byte-level encoding of this structure.
type CredentialState struct {
	Platform       entities.Platform `json:"platform"`
	Token          string            `json:"token,omitempty"`
	JID            string            `json:"jid,omitempty"`
	RegistrationID uint32            `json:"registration_id,omitempty"`
	NoiseKey       []byte            `json:"noise_key,omitempty"`
	IdentityKey    []byte            `json:"identity_key,omitempty"`
	SignedPreKey   []byte            `json:"signed_pre_key,omitempty"`
}

// Empty reports whether no auth material is present at all. A fresh session
// loads an empty state; that is the normal "never paired" case, not an error.
func (s CredentialState) Empty() bool {
	return s.Token == "" && s.JID == "" && len(s.NoiseKey) == 0 &&
		len(s.IdentityKey) == 0 && len(s.SignedPreKey) == 0
}

// InitConfig carries everything an adapter needs to construct its driver.
type InitConfig struct {
	SessionID string
	// Token is the static bot token (telegram only).
	Token string
	// StorePath points at the per-session device store file (whatsapp only).
	StorePath string
	// EchoQR echoes pairing output to the process log for interactive runs.
	EchoQR bool
}

// SendOptions carries the optional attributes of an outbound payload.
type SendOptions struct {
	Caption  string
	MimeType string
	FileName string
}

// SendResult is the only way a send reports failure. Adapters never panic
// and never return a bare error from a send primitive.
type SendResult struct {
	Success   bool
	MessageID string
	Err       error
}

// Provider is the capability contract the registry talks to. Both platform
// adapters implement it; nothing above this interface knows which platform
// it is driving.
type Provider interface {
	// Initialize constructs the underlying driver and begins connecting.
	// It returns an error only on fatal setup failure; connection progress
	// is reported through the callbacks.
	Initialize(ctx context.Context, cfg InitConfig, cb Callbacks) error

	// Disconnect is best-effort and idempotent. It must not panic.
	Disconnect()

	SendText(ctx context.Context, target string, text string, opts *SendOptions) SendResult
	SendImage(ctx context.Context, target string, data []byte, opts *SendOptions) SendResult
	SendAudio(ctx context.Context, target string, data []byte, opts *SendOptions) SendResult
	SendDocument(ctx context.Context, target string, data []byte, opts *SendOptions) SendResult

	// IsConnected is purely observational.
	IsConnected() bool
}

// Failure builds a failed SendResult.
func Failure(err error) SendResult {
	return SendResult{Success: false, Err: err}
}

// Sent builds a successful SendResult.
func Sent(messageID string) SendResult {
	return SendResult{Success: true, MessageID: messageID}
}
