// Package identity canonicalizes transport-specific sender identifiers into
// the stable key used for every session write and store lookup.
package identity

import "strings"

// TransportPrefix is the channel prefix Twilio attaches to WhatsApp
// identifiers (e.g. "whatsapp:+15551234567").
const TransportPrefix = "whatsapp:"

// Normalize strips the transport prefix and surrounding whitespace from a
// raw identifier. It is pure, total, and idempotent; it never fails. All
// session writes must use the normalized form.
func Normalize(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, TransportPrefix)
	return strings.TrimSpace(id)
}

// Variants returns the candidate keys to consult on reads, normalized form
// first. Upstream producers have historically written under either form, so
// lookups tolerate both; writes go under Variants(raw)[0] only.
func Variants(raw string) []string {
	normalized := Normalize(raw)
	if normalized == raw {
		return []string{normalized}
	}
	return []string{normalized, raw}
}
