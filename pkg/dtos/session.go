package dtos

import "time"

type CreateSessionDTO struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform" binding:"required,oneof=whatsapp telegram"`
	Token     string `json:"token"`
}

type SessionDTO struct {
	SessionID string    `json:"session_id"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	IsActive  bool      `json:"is_active"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SendTextDTO struct {
	Target  string `json:"target" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type SendMediaDTO struct {
	Target   string `json:"target" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=image audio document"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

type MessageResponseDTO struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	To        string `json:"to"`
}

type QRCodeDTO struct {
	SessionID string `json:"session_id"`
	QRCode    string `json:"qr_code"`
}

type SessionStatsDTO struct {
	ByStatus map[string]int64 `json:"by_status"`
}

type RuntimeDTO struct {
	SessionID        string `json:"session_id"`
	Live             bool   `json:"live"`
	Connected        bool   `json:"connected"`
	EverConnected    bool   `json:"ever_connected"`
	RestartAttempts  int    `json:"restart_attempts"`
	BanAttempts      int    `json:"ban_attempts"`
	ReconnectPending bool   `json:"reconnect_pending"`
}
