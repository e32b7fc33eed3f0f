// Package history provides the durable, size-bounded collection of past
// generation sessions, with an injected persistence backend.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/navaai/relay/pkg/transcript"
)

// Role of a message author.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Cap is the maximum number of sessions retained; the oldest are evicted on
// upsert.
const Cap = 50

const titleLen = 50

// Message is one entry in a session transcript. A user message always has
// Content; an agent message carries Logs and/or Content.
type Message struct {
	ID        string               `json:"id"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content,omitempty"`
	Logs      []transcript.Section `json:"logs,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Session is a completed (or cancelled) generation run. Messages are
// append-only once written to the store; updates replace the whole record.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	IsDraft     bool      `json:"isDraft"`
	IsFavorite  bool      `json:"isFavorite"`
	ContentHash string    `json:"contentHash,omitempty"`
}

// Filter selects which sessions a listing returns. Drafts are excluded from
// every externally visible view regardless of filter.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterFavorites Filter = "favorites"
)

// TitleFrom derives a session title from the first user message, truncated.
func TitleFrom(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= titleLen {
		return content
	}
	return string(runes[:titleLen]) + "..."
}

// HashTranscript computes a stable content hash over the session transcript,
// recorded on the session for dedup and diagnostics.
func HashTranscript(messages []Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
		for _, sec := range msg.Logs {
			h.Write([]byte(sec.Type))
			h.Write([]byte{0})
			for _, line := range sec.Content {
				h.Write([]byte(line))
				h.Write([]byte{'\n'})
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
