// Package signing produces and verifies outbound webhook signatures.
//
// Header format: t=<unixSeconds>,v1=<hex HMAC-SHA256 of "<unixSeconds>.<body>">.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const HeaderName = "X-Webhook-Signature"

var (
	ErrMissingSecret    = stderrors.New("signing secret is required")
	ErrMalformedHeader  = stderrors.New("malformed signature header")
	ErrSignatureExpired = stderrors.New("signature timestamp outside tolerance")
	ErrMismatch         = stderrors.New("signature mismatch")
)

// Compute returns the hex HMAC-SHA256 of "<ts>.<body>".
func Compute(secret string, body []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the full header value for body at ts.
func Sign(secret string, body []byte, ts int64) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Compute(secret, body, ts))
}

// Signer signs with a fixed secret and an injectable clock.
type Signer struct {
	secret string
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// WithClock returns a copy of s that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secret: s.secret, now: now}
}

func (s *Signer) Sign(body []byte) string {
	return Sign(s.secret, body, s.now().Unix())
}

// SignAt signs body for an explicit instant so the signature and any
// timestamp header sent alongside it agree.
func (s *Signer) SignAt(body []byte, at time.Time) string {
	return Sign(s.secret, body, at.Unix())
}

// ParseHeader splits a signature header into its timestamp and v1 signatures.
func ParseHeader(header string) (int64, []string, error) {
	var (
		ts   int64
		sigs []string
		seen bool
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, ErrMalformedHeader
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			ts, seen = parsed, true
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if !seen || len(sigs) == 0 {
		return 0, nil, ErrMalformedHeader
	}
	return ts, sigs, nil
}

// Verify checks header against body. A positive tolerance rejects timestamps
// further than tolerance from now in either direction.
func Verify(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	ts, sigs, err := ParseHeader(header)
	if err != nil {
		return err
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	expected := []byte(Compute(secret, body, ts))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrMismatch
}
