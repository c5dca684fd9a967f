package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const DefaultLlamaCppURL = "http://ai-server:8080/completion"

// EndMarker terminates the classifier's JSON output; generation stops on it.
const EndMarker = "<END_JSON>"

// LlamaCppClient talks to a llama.cpp server's /completion endpoint. The
// endpoint takes a single prompt, so the system prompt and messages are
// joined into one.
type LlamaCppClient struct {
	url         string
	nPredict    int
	temperature float64
	http        *http.Client
}

func NewLlamaCppClient(url string) *LlamaCppClient {
	if url == "" {
		url = DefaultLlamaCppURL
	}
	return &LlamaCppClient{
		url:         url,
		nPredict:    100,
		temperature: 0.3,
		http:        &http.Client{},
	}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop"`
}

func (c *LlamaCppClient) Chat(ctx context.Context, systemPrompt string, messages []Message) (*Response, error) {
	parts := make([]string, 0, len(messages)+1)
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	for _, m := range messages {
		parts = append(parts, m.Content)
	}

	body, err := json.Marshal(completionRequest{
		Prompt:      strings.Join(parts, "\n\n"),
		NPredict:    c.nPredict,
		Temperature: c.temperature,
		Stop:        []string{EndMarker},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama.cpp completion: %s %s", resp.Status, string(respBody))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("llama.cpp completion: response is not JSON")
	}

	// older servers answer with "completion" instead of "content"
	content := gjson.GetBytes(respBody, "content")
	if !content.Exists() {
		content = gjson.GetBytes(respBody, "completion")
	}
	return &Response{Content: strings.TrimSpace(content.String())}, nil
}
