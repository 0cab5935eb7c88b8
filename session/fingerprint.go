// Package session implements device fingerprinting, the session
// registry, collision risk scoring, and the session guard that
// arbitrates new sessions.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceContext holds the environment characteristics a fingerprint is
// derived from. Only fields needed for disambiguation are included;
// anything with revocable-privacy sensitivity stays out.
type DeviceContext struct {
	Platform        string `json:"platform"`
	Timezone        string `json:"timezone"`
	Locale          string `json:"locale"`
	ScreenSignature string `json:"screen_signature"`
	HardwareHint    string `json:"hardware_hint"`
	ClientID        string `json:"client_id"`
}

// clientIDMaxLen truncates the opaque client identifier before hashing,
// keeping just enough entropy to disambiguate devices.
const clientIDMaxLen = 8

// Fingerprint derives a stable, non-reversible identifier from the
// device context. Identical contexts always produce the same value.
func Fingerprint(dc DeviceContext) string {
	clientID := dc.ClientID
	if len(clientID) > clientIDMaxLen {
		clientID = clientID[:clientIDMaxLen]
	}

	var b strings.Builder
	b.WriteString("platform=")
	b.WriteString(dc.Platform)
	b.WriteString("|timezone=")
	b.WriteString(dc.Timezone)
	b.WriteString("|locale=")
	b.WriteString(dc.Locale)
	b.WriteString("|screen=")
	b.WriteString(dc.ScreenSignature)
	b.WriteString("|hardware=")
	b.WriteString(dc.HardwareHint)
	b.WriteString("|client=")
	b.WriteString(clientID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
