package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend transcribes through the OpenAI audio API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIBackendWithConfig is used to point the client at a compatible
// server.
func NewOpenAIBackendWithConfig(cfg openai.ClientConfig, model string) *OpenAIBackend {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (b *OpenAIBackend) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		FilePath: filepath.Base(filename),
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}
	return resp.Text, nil
}
