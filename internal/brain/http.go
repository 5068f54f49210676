package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/nova/internal/reliability"
)

const httpMaxAttempts = 3

// HTTPAdapter forwards requests to an ollama-compatible generate endpoint.
type HTTPAdapter struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPAdapter(url, model string) *HTTPAdapter {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "mistral"
	}
	return &HTTPAdapter{
		url:   strings.TrimSpace(url),
		model: model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

func (a *HTTPAdapter) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  a.model,
		Prompt: BuildPrompt(req),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, retryable, err := a.generateOnce(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (a *HTTPAdapter) generateOnce(ctx context.Context, payload []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return "", retryable, fmt.Errorf("brain http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body)), false, nil
	}
	return extractText(obj), false, nil
}

func extractText(obj map[string]any) string {
	for _, key := range []string{"response", "text", "output"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
