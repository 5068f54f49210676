// Package voice defines the speech collaborator contracts. The engines
// themselves (whisper, kokoro, cloud APIs) live outside this module.
package voice

import "context"

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Speaker converts assistant text into playable audio.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Provider bundles both directions of a speech backend.
type Provider interface {
	Transcriber
	Speaker
}
