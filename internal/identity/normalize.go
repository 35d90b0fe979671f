// Package identity maps channel-specific sender identifiers onto stable
// owner IDs. Every draft, listing and wallet is keyed by the owner ID, so
// the mapping must be deterministic across instances and restarts.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Normalizer derives owner IDs from raw identifiers.
type Normalizer struct {
	namespace uuid.UUID
}

// NewNormalizer builds a Normalizer. namespace may be any stable string;
// it is hashed into the UUID namespace used for derived IDs.
func NewNormalizer(namespace string) *Normalizer {
	ns := uuid.NameSpaceOID
	if namespace = strings.TrimSpace(namespace); namespace != "" {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace))
	}
	return &Normalizer{namespace: ns}
}

// Normalize returns the owner ID for a raw identifier. Identifiers that
// already are UUIDs pass through lowercased; anything else (phone numbers,
// chat handles) is deterministically derived. An empty identifier falls
// back to deriving from the session ID so anonymous web sessions still get
// a stable owner for their lifetime.
func (n *Normalizer) Normalize(raw, sessionID string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewSHA1(n.namespace, []byte("session:"+sessionID)).String()
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(n.namespace, []byte(canonicalize(raw))).String()
}

// canonicalize strips channel prefixes and spacing so the same phone
// number always derives the same owner regardless of channel formatting.
func canonicalize(raw string) string {
	raw = strings.ToLower(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")
	raw = strings.TrimPrefix(raw, "tel:")
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r == '+', r == '@', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContactPhone extracts a displayable phone number from a raw channel
// identifier, or "" when it does not look like one.
func ContactPhone(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "whatsapp:")
	raw = strings.TrimPrefix(raw, "tel:")
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, raw)
	if len(cleaned) < 7 {
		return ""
	}
	return cleaned
}
