package audio

import "testing"

func TestSentenceBuffer(t *testing.T) {
	var b SentenceBuffer

	if got := b.Add("Hello"); got != "" {
		t.Errorf("Add(%q) = %q, want empty", "Hello", got)
	}
	if got := b.Add(", world."); got != "Hello, world." {
		t.Errorf("Add(%q) = %q, want %q", ", world.", got, "Hello, world.")
	}
	if got := b.Add("Second."); got != "Second." {
		t.Errorf("Add(%q) = %q, want %q", "Second.", got, "Second.")
	}
	if got := b.Flush(); got != "" {
		t.Errorf("Flush after complete sentence = %q, want empty", got)
	}
}

func TestSentenceBufferRetainsRemainder(t *testing.T) {
	var b SentenceBuffer

	if got := b.Add("First! And then some"); got != "First!" {
		t.Errorf("Add returned %q, want %q", got, "First!")
	}
	if !b.Pending() {
		t.Error("expected remainder to be pending")
	}
	if got := b.Flush(); got != "And then some" {
		t.Errorf("Flush = %q, want %q", got, "And then some")
	}
	if b.Pending() {
		t.Error("buffer should be empty after Flush")
	}
}

func TestSentenceBufferSplitsAtLastBoundary(t *testing.T) {
	var b SentenceBuffer

	got := b.Add("One. Two? Three")
	if got != "One. Two?" {
		t.Errorf("Add = %q, want %q", got, "One. Two?")
	}
	if got := b.Flush(); got != "Three" {
		t.Errorf("Flush = %q, want %q", got, "Three")
	}
}

func TestSentenceBufferNewlineBoundary(t *testing.T) {
	var b SentenceBuffer

	if got := b.Add("Line one.\nLine two"); got != "Line one." {
		t.Errorf("Add = %q, want %q", got, "Line one.")
	}
	if got := b.Flush(); got != "Line two" {
		t.Errorf("Flush = %q, want %q", got, "Line two")
	}
}
