// Package brain bridges the assistant to the language-model backend
// behind a generate(prompt, context) contract.
package brain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Request is the normalized generation request.
type Request struct {
	Username     string
	SessionID    string
	SystemPrompt string
	ContextBlock string
	InputText    string
}

// Adapter produces the assistant reply for one turn.
type Adapter interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	CLIPath string
	Model   string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("brain CLI path is required for cli mode")
		}
		return NewCLIAdapter(cfg.CLIPath, cfg.Model), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Model), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	cliPath := strings.TrimSpace(cfg.CLIPath)
	if cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			return NewCLIAdapter(cliPath, cfg.Model)
		}
	}

	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Model)
	}

	return NewMockAdapter()
}

// BuildPrompt assembles the full model input from system prompt,
// recalled context and the user's utterance.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("### System:\n")
	b.WriteString(strings.TrimSpace(req.SystemPrompt))
	b.WriteString("\n\n")
	if ctx := strings.TrimSpace(req.ContextBlock); ctx != "" {
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	b.WriteString("### User:\n")
	b.WriteString(strings.TrimSpace(req.InputText))
	b.WriteString("\n\n### Nova:")
	return b.String()
}
