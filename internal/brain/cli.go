package brain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIAdapter pipes the prompt through a local model CLI (ollama run).
type CLIAdapter struct {
	binaryPath string
	model      string
}

func NewCLIAdapter(binaryPath, model string) *CLIAdapter {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "mistral"
	}
	return &CLIAdapter{binaryPath: strings.TrimSpace(binaryPath), model: model}
}

func (a *CLIAdapter) Generate(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req)

	cmd := exec.CommandContext(ctx, a.binaryPath, "run", a.model)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return "", ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return "", fmt.Errorf("brain cli failed: %w: %s", err, errText)
		}
		return "", fmt.Errorf("brain cli failed: %w", err)
	}

	return extractReply(stdout.String()), nil
}

// extractReply drops interactive-prompt echo lines from CLI output.
func extractReply(output string) string {
	var reply []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		reply = append(reply, line)
	}
	return strings.TrimSpace(strings.Join(reply, "\n"))
}
