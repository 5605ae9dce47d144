package webhooksend

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/signing"

	"github.com/google/uuid"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderTimestamp     = "X-Timestamp"
	HeaderCorrelationID = "X-Correlation-ID"

	// TimestampFormat is ISO-8601 with millisecond precision in UTC.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// NewRequestID returns wh_<unixMillis>_<random hex>.
func NewRequestID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("wh_%d_%s", now.UnixMilli(), hex.EncodeToString(id[:6]))
}

// BuildHeaders returns the request headers for one attempt. Caller supplied
// headers are applied first so the fixed set always wins. The signature is
// only added when signer is non-nil.
func BuildHeaders(p *Payload, meta channel.Metadata, requestID, userAgent string, now time.Time, signer *signing.Signer) http.Header {
	h := make(http.Header, len(p.Headers)+6)
	for k, v := range p.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	h.Set(HeaderRequestID, requestID)
	h.Set(HeaderTimestamp, now.UTC().Format(TimestampFormat))
	if meta.CorrelationID != "" {
		h.Set(HeaderCorrelationID, meta.CorrelationID)
	} else {
		h.Del(HeaderCorrelationID)
	}
	if signer != nil {
		h.Set(signing.HeaderName, signer.SignAt(p.Body, now))
	} else {
		h.Del(signing.HeaderName)
	}
	return h
}
