package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Logger writes audit entries. Implementations must tolerate partially
// filled entries; the repository backfills id, digest and timestamp.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Entry is one operator action worth keeping: who did what to which
// resource, from where. The payload digest pins the request body
// without storing it twice.
type Entry struct {
	ID            string
	CreatedAt     time.Time
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	DeviceID      string
	IP            string
	UserAgent     string
	Metadata      json.RawMessage
	PayloadDigest string
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON returns the hex SHA-256 of a metadata payload, or the
// empty string for an empty payload.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
