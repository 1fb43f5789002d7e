package cache

import (
	"time"

	"github.com/goccy/go-json"
)

// Entry is the latest ingested snapshot of one source.
type Entry struct {
	// ID identifies this write. A new snapshot of the same marker gets a new ID.
	ID     string `json:"id"`
	Source string `json:"source"`

	// Marker is the upstream version the payload belongs to.
	Marker string `json:"marker"`

	// Data is the payload as JSON.
	Data json.RawMessage `json:"data"`

	// ETag and LastModified are the validators of the response the payload
	// came from, kept so a restarted poller can send conditional requests.
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`

	// FetchedAt is when the poller observed the change.
	FetchedAt time.Time `json:"fetched_at"`

	// Expires is when the entry is dropped. Set by the store when zero.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Meta is the small per-source record read at startup.
type Meta struct {
	Source       string
	Marker       string
	ETag         string
	LastModified string
	FetchedAt    time.Time
	Size         int64
}
