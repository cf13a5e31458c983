package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleAlignment(t *testing.T) {
	assert.Equal(t, AlignLeft, RoleClient.Alignment())
	assert.Equal(t, AlignRight, RoleDesigner.Alignment())
	assert.Equal(t, AlignRight, RoleAdmin.Alignment())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleClient.Valid())
	assert.True(t, RoleDesigner.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("technician").Valid())
	assert.False(t, Role("").Valid())
}

func TestFromRecord(t *testing.T) {
	rec := Record{
		ID:         7,
		OrderID:    "ORD-31",
		Message:    "Shade is A2.",
		AuthorRole: "designer",
		AuthorName: "Maya",
		CreatedAt:  "2026-04-01T09:20:00Z",
	}
	msg := FromRecord(rec)

	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, "ORD-31", msg.ConversationID)
	assert.Equal(t, RoleDesigner, msg.AuthorRole)
	assert.Equal(t, "Maya", msg.AuthorName)
	assert.Equal(t, "Shade is A2.", msg.Text)
	assert.Equal(t, AlignRight, msg.Alignment)
	assert.False(t, msg.HasAttachment())

	parsed, err := time.Parse(time.RFC3339, rec.CreatedAt)
	assert.NoError(t, err)
	assert.Equal(t, FormatClock(parsed), msg.SentAt)
}

func TestFromRecordAttachment(t *testing.T) {
	msg := FromRecord(Record{ID: 8, OrderID: "ORD-31", AuthorRole: "client", AttachmentRef: "f-abc123"})
	assert.True(t, msg.HasAttachment())
	assert.Equal(t, "f-abc123", msg.AttachmentRef)
	assert.Equal(t, AlignLeft, msg.Alignment)
}

// History may hand back an already-formatted clock string while the stream
// delivers raw RFC3339 dates; both must render the same way.
func TestDisplayTimeConvergence(t *testing.T) {
	raw := "2026-04-01T09:20:00Z"
	parsed, err := time.Parse(time.RFC3339, raw)
	assert.NoError(t, err)
	preformatted := FormatClock(parsed)

	fromStream := FromRecord(Record{ID: 1, CreatedAt: raw, AuthorRole: "client"})
	fromHistory := FromRecord(Record{ID: 1, CreatedAt: preformatted, AuthorRole: "client"})
	assert.Equal(t, fromStream.SentAt, fromHistory.SentAt)
}

func TestDisplayTimeEmpty(t *testing.T) {
	assert.Empty(t, FromRecord(Record{ID: 1}).SentAt)
}

func TestFromRecordsPreservesOrder(t *testing.T) {
	msgs := FromRecords([]Record{{ID: 3}, {ID: 1}, {ID: 2}})
	assert.Equal(t, int64(3), msgs[0].ID)
	assert.Equal(t, int64(1), msgs[1].ID)
	assert.Equal(t, int64(2), msgs[2].ID)
	assert.Nil(t, FromRecords(nil))
}
