package messaging

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkLimit is the transport's per-message length ceiling. WhatsApp
// via Twilio rejects bodies over 1600 characters; 1500 leaves headroom.
const DefaultChunkLimit = 1500

// ChunkMessage splits body into pieces no longer than limit, preferring to
// break at paragraph, then line, then sentence, then word boundaries, in
// that order. Content is never dropped; a single unbreakable run is split
// at the limit as a last resort.
func ChunkMessage(body string, limit int) []string {
	if limit <= 0 || len(body) <= limit {
		return []string{body}
	}

	var chunks []string
	rest := body
	for len(rest) > limit {
		cut := findBreak(rest, limit)
		chunks = append(chunks, strings.TrimRight(rest[:cut], " \n"))
		rest = strings.TrimLeft(rest[cut:], " \n")
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// findBreak locates the best split position at or before limit.
func findBreak(s string, limit int) int {
	window := s[:limit]
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	// Back the blind cut up onto a rune boundary so a multi-byte character
	// is never split across chunks.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
