package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	ingestTimestampHeader = "X-Ingest-Timestamp"
	ingestSignatureHeader = "X-Ingest-Signature"
)

// IngestAuthMiddleware authenticates field gateway requests with an
// HMAC-SHA256 signature over the timestamp and body. The timestamp is
// bounded by MaxSkew so captured requests cannot be replayed later.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew}
}

// Wrap enforces the signature check, then replays the body to the
// wrapped handler.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		stamp := strings.TrimSpace(r.Header.Get(ingestTimestampHeader))
		signature := strings.TrimSpace(r.Header.Get(ingestSignatureHeader))
		if stamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		if !m.stampFresh(stamp) {
			http.Error(w, "ingest signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		want := computeIngestSignature(m.Secret, stamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(want)) {
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) stampFresh(stamp string) bool {
	unix, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return false
	}
	if m.MaxSkew <= 0 {
		return true
	}
	skew := time.Since(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= m.MaxSkew
}

func computeIngestSignature(secret []byte, stamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(stamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
