package voice

import (
	"context"
	"strings"

	"github.com/ent0n29/nova/internal/audio"
)

const mockSampleRate = 16000

// MockProvider is a local fallback provider used when no speech engine
// is configured. Transcription decodes the audio bytes as UTF-8 text;
// speech wraps the text bytes in a WAV container.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, in []byte) (string, error) {
	return strings.TrimSpace(string(in)), nil
}

func (p *MockProvider) Speak(_ context.Context, text string) ([]byte, error) {
	return audio.EncodeWAVPCM16LE([]byte(text), mockSampleRate)
}
