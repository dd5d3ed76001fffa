// Package claims reads unverified claims out of widget tokens.
//
// Nothing here checks signatures. The credential server is the authority on
// whether a token is valid; the client only needs exp to plan its refresh.
package claims

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
)

// DecodeExpiry returns the exp claim of token in Unix seconds.
// The second result is false for any malformed token: a missing payload
// segment, bad base64, invalid JSON, a missing or non-numeric exp, or an exp
// outside the int64 range.
func DecodeExpiry(token string) (int64, bool) {
	payload, ok := payloadSegment(token)
	if !ok {
		return 0, false
	}

	raw, ok := decodeSegment(payload)
	if !ok || !gjson.ValidBytes(raw) {
		return 0, false
	}

	exp := gjson.GetBytes(raw, "exp")
	if exp.Type != gjson.Number {
		return 0, false
	}
	if n, err := strconv.ParseInt(exp.Raw, 10, 64); err == nil {
		return n, true
	}

	// Fractional or exponent forms are truncated; anything outside int64 is
	// treated as malformed.
	f := exp.Float()
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// ExpiresAt is DecodeExpiry as a time.Time.
func ExpiresAt(token string) (time.Time, bool) {
	exp, ok := DecodeExpiry(token)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(exp, 0), true
}

// Claims is the unverified view of a token used by diagnostics.
type Claims struct {
	Header map[string]any
	Claims jwt.MapClaims
}

// Parse decodes header and claims without verifying the signature.
func Parse(token string) (*Claims, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, errno.ErrMalformedToken.WithMessage("parse token: %v", err)
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errno.ErrMalformedToken
	}
	return &Claims{Header: tok.Header, Claims: mc}, nil
}

func payloadSegment(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(seg string) ([]byte, bool) {
	if raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "=")); err == nil {
		return raw, true
	}
	return nil, false
}
