// Package transcribe turns recorded audio into text through an external
// service.
package transcribe

import "context"

// Backend is a pluggable transcription backend.
type Backend interface {
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
}

// Response is the body returned by the transcription endpoint.
type Response struct {
	Transcript string `json:"transcript"`
}
