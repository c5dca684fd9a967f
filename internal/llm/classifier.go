package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	ErrInvalidOutput = errors.New("invalid classifier output")
	ErrUnavailable   = errors.New("classifier unavailable")
)

const (
	DefaultClassifyTimeout = 30 * time.Second
	// MaxInputTokens caps the user text sent for classification.
	MaxInputTokens = 512

	UncertainAdvice = "Entry logged, but classification was uncertain."
	DefaultAdvice   = "Keep pushing forward."
)

// PriorityReader supplies the current weights for the prompt.
type PriorityReader interface {
	AllPriorities(ctx context.Context) (map[category.Category]int, error)
}

// Classifier maps free text onto a category and a short piece of advice.
type Classifier struct {
	client     Client
	priorities PriorityReader
	rules      string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewClassifier(client Client, priorities PriorityReader, rules string, timeout time.Duration, logger *zap.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		client:     client,
		priorities: priorities,
		rules:      rules,
		timeout:    timeout,
		logger:     logger,
	}
}

// Classify never fails. Any fault, including the timeout, resolves to Misc
// with the uncertain-classification advice.
func (c *Classifier) Classify(ctx context.Context, text string) (category.Category, string) {
	cat, advice, err := c.classify(ctx, text)
	if err != nil {
		c.logger.Warn("classification failed", zap.Error(err))
		return category.Misc, UncertainAdvice
	}
	c.logger.Debug("classified", zap.Stringer("category", cat))
	return cat, advice
}

func (c *Classifier) classify(ctx context.Context, text string) (category.Category, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	priorities, err := c.priorities.AllPriorities(ctx)
	if err != nil {
		return "", "", fmt.Errorf("loading priorities: %w", err)
	}

	system := ClassifierPrompt(priorities, c.rules)
	messages := []Message{
		{Role: "user", Content: ClassifierInput(TruncateTokens(text, MaxInputTokens))},
	}
	c.logger.Debug("classifier request", zap.Int("prompt_tokens", EstimatePromptTokens(system, messages)))

	resp, err := c.client.Chat(ctx, system, messages)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return ParseVerdict(resp.Content)
}

// ParseVerdict reads {"category": ..., "response": ...} out of raw model
// output. The category is matched leniently; advice defaults when absent.
func ParseVerdict(raw string) (category.Category, string, error) {
	if i := strings.Index(raw, EndMarker); i >= 0 {
		raw = raw[:i]
	}
	block := extractJSONBlock(stripCodeFences(raw))
	if block == "" {
		return "", "", fmt.Errorf("%w: no JSON object found in response", ErrInvalidOutput)
	}
	if !gjson.Valid(block) {
		return "", "", fmt.Errorf("%w: malformed JSON", ErrInvalidOutput)
	}

	cat := category.Misc
	if v := gjson.Get(block, "category"); v.Exists() {
		cat = category.Match(v.String())
	}
	advice := DefaultAdvice
	if v := gjson.Get(block, "response"); v.Exists() && strings.TrimSpace(v.String()) != "" {
		advice = strings.TrimSpace(v.String())
	}
	return cat, advice, nil
}

// stripCodeFences removes markdown fence lines (```json ... ```).
func stripCodeFences(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// extractJSONBlock finds the first balanced { ... } block in the text.
func extractJSONBlock(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
