// Package ollama adapts a locally running Ollama server. It is the only
// backend that attests strict privacy: requests never leave the host.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hvngo/llm-dispatch/internal/provider"
)

const DefaultBaseURL = "http://127.0.0.1:11434"

type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func New(baseURL string) provider.Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OllamaProvider{
		baseURL: baseURL,
		// Local inference on modest hardware can take a while.
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *OllamaProvider) Descriptor() provider.Descriptor {
	return provider.NewDescriptor(
		"ollama", "Ollama (local)", provider.TierCheap, 32768, "llama3.1:8b",
		[]provider.Intent{provider.IntentChat, provider.IntentSummarize},
		provider.PrivacyStrict, provider.PrivacyNormal,
	)
}

func (p *OllamaProvider) Invoke(ctx context.Context, model string, req *provider.TaskRequest) (*provider.TaskResult, error) {
	ollamaReq := ollamaRequest{
		Model:    model,
		Messages: make([]ollamaMessage, len(req.Messages)),
		Stream:   false,
	}
	for i, m := range req.Messages {
		ollamaReq.Messages[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, err
	}

	return &provider.TaskResult{
		ProviderID: "ollama",
		Model:      ollamaResp.Model,
		Output: []provider.Message{
			{Role: "assistant", Content: ollamaResp.Message.Content},
		},
		Usage: &provider.Usage{
			InputTokens:  ollamaResp.PromptEvalCount,
			OutputTokens: ollamaResp.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
