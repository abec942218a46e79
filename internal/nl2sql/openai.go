package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/wmsinsight/wmsinsight/internal/failure"
)

const unresolvablePrefix = "UNRESOLVABLE:"

type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIBackend asks an OpenAI-compatible chat completion endpoint for SQL.
// The API key is the per-request credential, so a client is built per call
// over one shared *http.Client.
type OpenAIBackend struct {
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &OpenAIBackend{
		baseURL:     strings.TrimSuffix(baseURL, "/v1"),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

func (b *OpenAIBackend) GenerateSQL(ctx context.Context, req Request) (string, error) {
	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		return "", ErrCredentialRequired
	}
	messages, err := buildMessages(req)
	if err != nil {
		return "", err
	}

	clientCfg := openai.DefaultConfig(credential)
	clientCfg.BaseURL = b.baseURL + "/v1"
	clientCfg.HTTPClient = b.httpClient
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}

	content := stripMarkdownSQL(resp.Choices[0].Message.Content)
	if tokens, ok := parseUnresolvable(content); ok {
		return "", failure.Unresolvable(tokens)
	}
	if content == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return content, nil
}

func buildMessages(req Request) ([]openai.ChatCompletionMessage, error) {
	if req.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	schemaJSON, err := json.Marshal(req.Catalog.Describe())
	if err != nil {
		return nil, fmt.Errorf("marshal schema context: %w", err)
	}
	systemPrompt := fmt.Sprintf("You convert warehouse analytics questions into a single read-only %s SELECT statement. "+
		"Return ONLY SQL. No markdown, no explanation.", req.Dialect)
	userPrompt := fmt.Sprintf(
		"Schema (JSON):\n%s\n\nQuestion:\n%s\n\nRules:\n"+
			"- Use only the listed tables and columns; join through the listed relationships.\n"+
			"- Output exactly one SELECT statement. Never modify data.\n"+
			"- Alias aggregates with short snake_case names.\n"+
			"- Put the label column first and the numeric measure second.\n"+
			"- Never return more than %d rows.\n"+
			"- If the question names something the schema cannot answer, reply %s followed by the unknown terms separated by commas.",
		string(schemaJSON),
		strings.TrimSpace(req.Question),
		req.MaxRows,
		unresolvablePrefix,
	)
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}, nil
}

func parseUnresolvable(content string) ([]string, bool) {
	if len(content) < len(unresolvablePrefix) || !strings.EqualFold(content[:len(unresolvablePrefix)], unresolvablePrefix) {
		return nil, false
	}
	var tokens []string
	for _, part := range strings.Split(content[len(unresolvablePrefix):], ",") {
		if token := strings.TrimSpace(part); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, true
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
