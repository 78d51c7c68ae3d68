package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dqinsight/internal/logging"
)

const providerOpenAI = "openai"

// Schema modes for providers speaking the chat-completions protocol.
const (
	SchemaModeNative      = "native"      // response_format json_schema
	SchemaModeInstruction = "instruction" // json_object plus a prose shape description
)

// OpenAIConfig holds OpenAI-compatible client settings.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	SchemaMode  string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		SchemaMode:  SchemaModeNative,
		Timeout:     2 * time.Minute,
		Temperature: 0.1,
		MaxTokens:   4096,
	}
}

// OpenAIClient implements Client against an OpenAI-compatible
// chat-completions endpoint. It has no code-execution tool, so ExecuteCode
// is a plain completion.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	schemaMode  string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewOpenAIClient creates an OpenAI client with custom config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	defaults := DefaultOpenAIConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.SchemaMode == "" {
		cfg.SchemaMode = defaults.SchemaMode
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		schemaMode:  cfg.SchemaMode,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  httpClient,
		logger:      logger,
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat map[string]any  `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ExecuteCode sends prompt as a single user turn. Provider-hosted files from
// other providers cannot be referenced and are ignored.
func (c *OpenAIClient) ExecuteCode(ctx context.Context, prompt string, file *FileRef) (string, error) {
	const op = "execute_code"
	if file != nil {
		logging.WithContext(ctx, c.logger).Debug("file context ignored by provider", zap.String("uri", file.URI))
	}
	content, err := c.complete(ctx, openAIRequest{
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", newError(providerOpenAI, op, err)
	}
	return content, nil
}

// GenerateStructured requests a JSON object. In native mode the schema is
// sent as response_format; in instruction mode the schema's prose
// description is appended to the last message.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, messages []Message, schema Schema) (map[string]any, error) {
	const op = "generate_structured"

	req := openAIRequest{Messages: make([]openAIMessage, 0, len(messages))}
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case RoleSystem:
			role = "system"
		case RoleModel:
			role = "assistant"
		}
		req.Messages = append(req.Messages, openAIMessage{Role: role, Content: m.Content})
	}

	if c.schemaMode == SchemaModeNative && schema.JSON != nil {
		name := schema.Name
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"schema": schema.JSON,
			},
		}
	} else {
		req.ResponseFormat = map[string]any{"type": "json_object"}
		if schema.Instruction != "" && len(req.Messages) > 0 {
			last := &req.Messages[len(req.Messages)-1]
			last.Content += "\n\n" + schema.Instruction
		}
	}

	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, newError(providerOpenAI, op, err)
	}
	obj, err := decodeObject(content)
	if err != nil {
		return nil, newError(providerOpenAI, op, err)
	}
	return obj, nil
}

func (c *OpenAIClient) complete(ctx context.Context, reqBody openAIRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	reqBody.Model = c.model
	reqBody.MaxTokens = c.maxTokens
	reqBody.Temperature = c.temperature

	log := logging.WithContext(ctx, c.logger)
	startTime := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var openaiResp openAIResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if openaiResp.Error != nil {
		return "", fmt.Errorf("API error: %s", openaiResp.Error.Message)
	}
	if len(openaiResp.Choices) == 0 {
		return "", ErrNoCandidates
	}

	content := strings.TrimSpace(openaiResp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrNoText
	}
	log.Debug("completion finished",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Int("response_len", len(content)))
	return content, nil
}
