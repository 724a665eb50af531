package audio

import "strings"

// sentenceBoundaries are terminator+whitespace pairs that end a speakable unit.
var sentenceBoundaries = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// SentenceBuffer accumulates streamed text fragments and yields complete
// sentences as they form, so speech synthesis can start before the full
// response has streamed in.
type SentenceBuffer struct {
	buf string
}

// Add appends a fragment. If the buffer now contains a sentence boundary, the
// text up to the last boundary is returned (trimmed) and the remainder is
// retained; otherwise the empty string is returned. A terminator at the very
// end of the buffer also completes a sentence.
func (b *SentenceBuffer) Add(fragment string) string {
	b.buf += fragment

	last := -1
	width := 0
	for _, boundary := range sentenceBoundaries {
		if i := strings.LastIndex(b.buf, boundary); i > last {
			last = i
			width = len(boundary)
		}
	}
	if last >= 0 {
		sentence := strings.TrimSpace(b.buf[:last+1])
		b.buf = b.buf[last+width:]
		return sentence
	}

	trimmed := strings.TrimRight(b.buf, " \n\t")
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?") {
		b.buf = ""
		return trimmed
	}

	return ""
}

// Flush returns any retained remainder (trimmed) and clears the buffer.
func (b *SentenceBuffer) Flush() string {
	out := strings.TrimSpace(b.buf)
	b.buf = ""
	return out
}

// Pending reports whether unreturned text remains in the buffer.
func (b *SentenceBuffer) Pending() bool {
	return strings.TrimSpace(b.buf) != ""
}
