package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dialtone-ai/dialtone/pkg/audio"
)

const recordingFile = "recording.ulaw"

var artifactNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Artifacts stores per-task call artifacts (raw recording, exports,
// analysis output) as flat files under a base directory.
type Artifacts struct {
	basePath string
}

func NewArtifacts(basePath string) *Artifacts {
	if basePath == "" {
		basePath = "/data/artifacts"
	}
	return &Artifacts{basePath: basePath}
}

// TaskDir returns the artifact directory for a task, creating it on demand
func (a *Artifacts) TaskDir(taskID string) (string, error) {
	dir := filepath.Join(a.basePath, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return dir, nil
}

// SaveArtifact writes a named artifact for a task
func (a *Artifacts) SaveArtifact(taskID, name string, data []byte) error {
	if !artifactNameRe.MatchString(name) {
		return fmt.Errorf("invalid artifact name: %q", name)
	}

	dir, err := a.TaskDir(taskID)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// GetArtifact reads a named artifact for a task
func (a *Artifacts) GetArtifact(taskID, name string) ([]byte, error) {
	if !artifactNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid artifact name: %q", name)
	}

	data, err := os.ReadFile(filepath.Join(a.basePath, taskID, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// AppendRecording appends raw mu-law audio to the task's call recording
func (a *Artifacts) AppendRecording(taskID string, mulaw []byte) error {
	dir, err := a.TaskDir(taskID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, recordingFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(mulaw); err != nil {
		return fmt.Errorf("failed to append recording: %w", err)
	}
	return nil
}

// ExportRecordingWAV decodes the task's mu-law recording to 16-bit PCM
// and returns it framed as a WAV file.
func (a *Artifacts) ExportRecordingWAV(taskID string) ([]byte, error) {
	mulaw, err := os.ReadFile(filepath.Join(a.basePath, taskID, recordingFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	pcm := audio.DecodeMuLawToPCM16(mulaw)
	return audio.WrapPCM(pcm, 8000, 1), nil
}

// HasRecording reports whether the task has any recorded audio
func (a *Artifacts) HasRecording(taskID string) bool {
	info, err := os.Stat(filepath.Join(a.basePath, taskID, recordingFile))
	return err == nil && info.Size() > 0
}
