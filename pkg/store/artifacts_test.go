package store

import (
	"bytes"
	"testing"
)

func TestArtifacts_RecordingRoundTrip(t *testing.T) {
	a := NewArtifacts(t.TempDir())

	if a.HasRecording("task-1") {
		t.Fatal("expected no recording before any audio arrives")
	}
	if _, err := a.ExportRecordingWAV("task-1"); err == nil {
		t.Fatal("expected export of a missing recording to fail")
	}

	chunk1 := []byte{0xFF, 0x7F, 0x80, 0x00}
	chunk2 := []byte{0xFF, 0xFF}
	if err := a.AppendRecording("task-1", chunk1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := a.AppendRecording("task-1", chunk2); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if !a.HasRecording("task-1") {
		t.Fatal("expected recording to exist after appends")
	}

	wav, err := a.ExportRecordingWAV("task-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatalf("expected a RIFF header, got % x", wav[:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("expected WAVE format, got % x", wav[8:12])
	}

	// mulaw decodes to one 16-bit sample per byte, plus the 44-byte header
	samples := len(chunk1) + len(chunk2)
	if want := samples*2 + 44; len(wav) != want {
		t.Fatalf("expected %d WAV bytes for %d samples, got %d", want, samples, len(wav))
	}
}

func TestArtifacts_NamedArtifacts(t *testing.T) {
	a := NewArtifacts(t.TempDir())

	if err := a.SaveArtifact("task-1", "analysis.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, err := a.GetArtifact("task-1", "analysis.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected artifact contents: %s", data)
	}

	if _, err := a.GetArtifact("task-1", "missing.json"); err == nil {
		t.Fatal("expected an error for a missing artifact")
	}
}

func TestArtifacts_RejectsPathTraversal(t *testing.T) {
	a := NewArtifacts(t.TempDir())

	for _, name := range []string{"../escape", "a/b", ""} {
		if err := a.SaveArtifact("task-1", name, []byte("x")); err == nil {
			t.Errorf("expected save of %q to be rejected", name)
		}
		if _, err := a.GetArtifact("task-1", name); err == nil {
			t.Errorf("expected read of %q to be rejected", name)
		}
	}
}
