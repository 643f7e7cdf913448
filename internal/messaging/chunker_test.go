package messaging

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkMessageShortBodyUntouched(t *testing.T) {
	chunks := ChunkMessage("short message", DefaultChunkLimit)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Errorf("short body must pass through unchanged, got %v", chunks)
	}
}

func TestChunkMessagePrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("a", 40)
	second := strings.Repeat("b", 40)
	body := first + "\n\n" + second

	chunks := ChunkMessage(body, 60)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != first || chunks[1] != second {
		t.Errorf("expected split at paragraph boundary, got %v", chunks)
	}
}

func TestChunkMessageFallsBackToWordBreaks(t *testing.T) {
	body := strings.Repeat("word ", 50) // 250 chars, no paragraphs or sentences
	chunks := ChunkMessage(body, 100)

	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
		if strings.Contains(c, "  ") {
			t.Errorf("chunk %d has mangled spacing: %q", i, c)
		}
	}
	reassembled := strings.Join(chunks, " ")
	if strings.ReplaceAll(reassembled, " ", "") != strings.ReplaceAll(body, " ", "") {
		t.Error("chunking dropped content")
	}
}

func TestChunkMessageNeverSplitsRunes(t *testing.T) {
	body := strings.Repeat("💊", 40) // 160 bytes, no break candidates
	chunks := ChunkMessage(body, 50)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split a rune: %q", i, c)
		}
		if len(c) > 50 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != body {
		t.Error("emoji run not preserved byte for byte")
	}
}

func TestChunkMessageUnbreakableRun(t *testing.T) {
	body := strings.Repeat("x", 120)
	chunks := ChunkMessage(body, 50)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 120 unbreakable chars at limit 50, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != body {
		t.Error("unbreakable run not preserved byte for byte")
	}
}
