package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"
)

// EventWriter persists intervention events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *InterventionEvent)
	Close()
}

// EventReader serves recorded events back to the API.
type EventReader interface {
	ListEvents(ctx context.Context, params ListEventsParams) ([]InterventionEvent, int, error)
	// GetEvent returns nil, nil when the event does not exist.
	GetEvent(ctx context.Context, projectID, eventID string) (*InterventionEvent, error)
}

// InterventionEvent is the record of one message passing through a chain.
type InterventionEvent struct {
	EventID   string
	ProjectID string
	SessionID string
	Timestamp time.Time

	Direction string
	AgentID   string
	ToolName  string
	Provider  string
	Model     string

	Verdict    string
	Reason     string
	DecidedBy  string   // handler that dropped or halted, if any
	ModifiedBy []string // handlers that rewrote the content, in order

	ContentPreview string // First 500 runes
	ContentHash    string // SHA256 of full content
	ContentSize    uint32

	IsShadow  bool
	LatencyMs float32
}

// ListEventsParams holds filters and pagination for event listing.
// Nil filters are not applied.
type ListEventsParams struct {
	ProjectID string
	SessionID *string
	Verdict   *string
	Direction *string
	AgentID   *string
	ToolName  *string
	IsShadow  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// MaxOffset bounds Offset so it fits every backend's offset type.
const MaxOffset = math.MaxInt32

// Offset returns the row offset of the requested page. Pages start at 1.
// Offsets past MaxOffset saturate.
func (p ListEventsParams) Offset() int {
	if p.Page < 1 || p.PageSize < 1 {
		return 0
	}
	if p.Page-1 > MaxOffset/p.PageSize {
		return MaxOffset
	}
	return (p.Page - 1) * p.PageSize
}

// ContentPreviewLength is the max runes stored in content_preview.
const ContentPreviewLength = 500

// TruncateContent returns the first maxLen runes of content. It never splits
// a multi-byte UTF-8 character.
func TruncateContent(content string, maxLen int) string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen])
}

// HashContent returns the hex SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SetContent fills the preview, hash and size fields from the original
// message content. The full content is never stored.
func (e *InterventionEvent) SetContent(content string) {
	e.ContentPreview = TruncateContent(content, ContentPreviewLength)
	e.ContentHash = HashContent(content)
	e.ContentSize = uint32(len(content))
}
