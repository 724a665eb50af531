package audio

import "encoding/base64"

// DefaultChunkSize is the media-bridge frame size in bytes.
const DefaultChunkSize = 640

// ChunkPCM splits audio data into frames of the given size for streaming.
func ChunkPCM(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// EncodeChunkToBase64 encodes an audio chunk for a JSON media event payload.
func EncodeChunkToBase64(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// DecodeBase64Audio decodes a base64 media event payload.
func DecodeBase64Audio(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}
