package sdk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type tokenPayload struct {
	Exp float64 `json:"exp"`
}

// tokenExpiresAt returns the expiry timestamp encoded in a JWT (if present).
//
// The signature is not verified here; this only drives client-side control
// flow such as proactive refresh. The server stays authoritative.
func tokenExpiresAt(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, false
		}
	}

	var payload tokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return time.Time{}, false
	}
	if payload.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(payload.Exp), 0), true
}

// isTokenExpiringSoon reports whether a token is already expired or will
// expire within the given window.
func isTokenExpiringSoon(token string, window time.Duration) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return true, fmt.Errorf("token is empty")
	}
	exp, ok := tokenExpiresAt(token)
	if !ok {
		// Tokens without a parseable exp are left to the server to reject.
		return false, nil
	}
	return time.Until(exp) <= window, nil
}
