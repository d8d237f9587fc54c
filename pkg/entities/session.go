package entities

import (
	"time"

	"gorm.io/gorm"
)

// Platform identifies which protocol driver backs a session.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// Status is the observed lifecycle state of a session. It is distinct from
// IsActive, which records operator intent ("should this session be running").
type Status string

const (
	StatusInactive     Status = "INACTIVE"
	StatusConnecting   Status = "CONNECTING"
	StatusQRPending    Status = "QR_PENDING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusError        Status = "ERROR"
)

// Session tracks one managed connection to one account/bot token.
type Session struct {
	gorm.Model
	SessionID string    `json:"session_id" gorm:"uniqueIndex;not null;type:varchar(64)"`
	Platform  Platform  `json:"platform" gorm:"type:varchar(20);not null"`
	Status    Status    `json:"status" gorm:"type:varchar(20);default:'INACTIVE'"`
	IsActive  bool      `json:"is_active" gorm:"default:false"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionCredential stores the opaque serialized auth blob for a session.
// Binary key material inside the blob is base64-wrapped by the credential
// store before it reaches this column.
type SessionCredential struct {
	gorm.Model
	SessionID string `json:"session_id" gorm:"uniqueIndex;not null;type:varchar(64)"`
	Blob      []byte `json:"blob" gorm:"type:bytea"`
}
