package live

import (
	"encoding/json"
	"time"
)

// Event is a decoded application-level occurrence (chat message, gift, ...)
// extracted from a SEND_EVENT packet. Instances are transient: constructed,
// published, and dropped per frame.
type Event struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// SessionInfo is the immutable snapshot describing one start..end lifecycle.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	RoomID       int64     `json:"room_id"`
	AnchorName   string    `json:"anchor_name"`
	AnchorOpenID string    `json:"anchor_open_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}
