package models

import (
	"time"
)

// Role identifies which side of an order conversation authored a message.
// The closed set mirrors the platform's account types; it is used for
// display alignment only, never for authorization.
type Role string

const (
	RoleClient   Role = "client"
	RoleDesigner Role = "designer"
	RoleAdmin    Role = "admin"
)

// Alignment is the rendering side for a message.
type Alignment string

const (
	// AlignLeft is the customer side.
	AlignLeft Alignment = "left"
	// AlignRight is the operator side (designers and admins).
	AlignRight Alignment = "right"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleDesigner, RoleAdmin:
		return true
	}
	return false
}

// Alignment returns the display side for the role. Clients render left;
// designers and admins render as the operator side on the right.
func (r Role) Alignment() Alignment {
	if r == RoleClient {
		return AlignLeft
	}
	return AlignRight
}

// Message is one immutable entry in an order conversation. The numeric ID is
// assigned by the server, strictly increasing per conversation, and is the
// sole sort and dedupe key.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorRole     Role      `json:"author_role"`
	AuthorName     string    `json:"author_name"`
	Text           string    `json:"text,omitempty"`
	AttachmentRef  string    `json:"attachment_ref,omitempty"`
	SentAt         string    `json:"sent_at"`
	Alignment      Alignment `json:"alignment"`
}

// HasAttachment reports whether the message body is a file reference rather
// than inline text. The two are mutually exclusive.
func (m Message) HasAttachment() bool {
	return m.AttachmentRef != ""
}

// Record is the wire shape shared by the history endpoint and stream data
// frames.
type Record struct {
	ID            int64  `json:"id"`
	OrderID       string `json:"order_id"`
	Message       string `json:"message"`
	AuthorRole    string `json:"author_role"`
	AuthorName    string `json:"author_name"`
	CreatedAt     string `json:"created_at"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

// ClockFormat is the display format both delivery paths converge on.
const ClockFormat = time.Kitchen

// FormatClock renders a timestamp as the locale time-of-day string used for
// display.
func FormatClock(t time.Time) string {
	return t.Local().Format(ClockFormat)
}

// displayTime normalizes the created_at field. The history endpoint may hand
// back a pre-formatted display string while the stream delivers raw server
// dates; both must render identically.
func displayTime(raw string) string {
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return FormatClock(t)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return FormatClock(t)
	}
	return raw
}

// FromRecord maps a wire record into the display Message shape.
func FromRecord(r Record) Message {
	role := Role(r.AuthorRole)
	return Message{
		ID:             r.ID,
		ConversationID: r.OrderID,
		AuthorRole:     role,
		AuthorName:     r.AuthorName,
		Text:           r.Message,
		AttachmentRef:  r.AttachmentRef,
		SentAt:         displayTime(r.CreatedAt),
		Alignment:      role.Alignment(),
	}
}

// FromRecords maps a batch of wire records preserving arrival order.
func FromRecords(records []Record) []Message {
	if len(records) == 0 {
		return nil
	}
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}
