package domain

import "time"

// Role identifies the author of a history entry.
type Role string

const (
	// RoleUser marks text sent by the client.
	RoleUser Role = "user"
	// RoleAssistant marks text produced by the generator or a fallback.
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one line of the append-only session trace.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyType categorizes outbound payloads.
type ReplyType string

const (
	// ReplyTypeReply is a generator-backed (or fallback) answer to a turn.
	ReplyTypeReply ReplyType = "reply"
	// ReplyTypeWarning is the inactivity "are you still there" notice.
	ReplyTypeWarning ReplyType = "warning"
	// ReplyTypeClosing precedes a forced disconnect.
	ReplyTypeClosing ReplyType = "closing"
	// ReplyTypeRateLimited tells the client a message was dropped.
	ReplyTypeRateLimited ReplyType = "rate_limited"
	// ReplyTypeError reports a malformed inbound frame.
	ReplyTypeError ReplyType = "error"
	// ReplyTypePong answers a client ping.
	ReplyTypePong ReplyType = "pong"
)

// Reply is the payload delivered to the client.
type Reply struct {
	Type     ReplyType          `json:"type"`
	Message  string             `json:"message"`
	Data     *StructuredContext `json:"data,omitempty"`
	Complete bool               `json:"complete"`
}

// NewReply builds a reply carrying a snapshot of ctx.
func NewReply(message string, ctx StructuredContext) Reply {
	snapshot := ctx.Clone()
	if snapshot.Items == nil {
		snapshot.Items = []Item{}
	}
	return Reply{
		Type:     ReplyTypeReply,
		Message:  message,
		Data:     &snapshot,
		Complete: snapshot.Complete(),
	}
}

// Notice builds a context-free reply of the given type.
func Notice(t ReplyType, message string) Reply {
	return Reply{Type: t, Message: message}
}
