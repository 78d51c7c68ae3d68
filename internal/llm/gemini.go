package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"dqinsight/internal/extract"
	"dqinsight/internal/logging"
)

const providerGemini = "gemini"

// GeminiConfig holds Gemini client settings.
type GeminiConfig struct {
	APIKey          string
	Model           string // code-execution model
	StructuredModel string // structured-output model; defaults to Model
	BaseURL         string // optional endpoint override
	APIVersion      string
	Timeout         time.Duration
	Temperature     float32
	MaxOutputTokens int32
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		Timeout:         2 * time.Minute,
		Temperature:     0.1,
		MaxOutputTokens: 8192,
	}
}

// GeminiClient implements Client and FileUploader on the genai SDK.
type GeminiClient struct {
	client          *genai.Client // nil when no API key is configured
	model           string
	structuredModel string
	temperature     float32
	maxOutputTokens int32
	logger          *zap.Logger
}

// NewGeminiClient creates a Gemini client. A missing API key is not an
// error here: every call then fails with KindConfig.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiConfig("").Model
	}
	structuredModel := strings.TrimSpace(cfg.StructuredModel)
	if structuredModel == "" {
		structuredModel = model
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &GeminiClient{
		model:           model,
		structuredModel: structuredModel,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		logger:          logger,
	}
	if cfg.APIKey == "" {
		logger.Warn("gemini API key not configured; calls will fail")
		return c, nil
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = client
	return c, nil
}

// ExecuteCode runs prompt with the code-execution tool and renders every
// returned part, in order, as one string.
func (c *GeminiClient) ExecuteCode(ctx context.Context, prompt string, file *FileRef) (string, error) {
	const op = "execute_code"
	log := logging.WithContext(ctx, c.logger)
	if c.client == nil {
		return "", newError(providerGemini, op, ErrNoAPIKey)
	}

	parts := make([]*genai.Part, 0, 2)
	if file != nil && file.URI != "" {
		parts = append(parts, genai.NewPartFromURI(file.URI, file.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
		Tools:       []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}},
	}
	if c.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.maxOutputTokens
	}

	log.Debug("code execution request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Bool("file", file != nil))

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", newError(providerGemini, op, err)
	}

	text, err := renderParts(resp)
	if err != nil {
		return "", newError(providerGemini, op, err)
	}
	return text, nil
}

// renderParts concatenates candidate parts without separators. Tool parts
// become JSON objects so downstream extraction sees them as a run of
// concatenated objects ending with the model's final answer.
func renderParts(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoCandidates
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", ErrEmptyParts
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		switch {
		case part.Text != "":
			sb.WriteString(part.Text)
		case part.ExecutableCode != nil:
			writeJSON(&sb, map[string]any{
				"type":     "executable_code",
				"language": string(part.ExecutableCode.Language),
				"code":     part.ExecutableCode.Code,
			})
		case part.CodeExecutionResult != nil:
			writeJSON(&sb, map[string]any{
				"type":    "code_execution_result",
				"outcome": string(part.CodeExecutionResult.Outcome),
				"output":  part.CodeExecutionResult.Output,
			})
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrNoText
	}
	return sb.String(), nil
}

func writeJSON(sb *strings.Builder, v map[string]any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	sb.Write(b)
}

// GenerateStructured requests a JSON object constrained by schema.JSON.
// System messages become the system instruction.
func (c *GeminiClient) GenerateStructured(ctx context.Context, messages []Message, schema Schema) (map[string]any, error) {
	const op = "generate_structured"
	log := logging.WithContext(ctx, c.logger)
	if c.client == nil {
		return nil, newError(providerGemini, op, ErrNoAPIKey)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature),
		ResponseMIMEType: "application/json",
	}
	if c.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.maxOutputTokens
	}
	if schema.JSON != nil {
		cfg.ResponseJsonSchema = schema.JSON
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		var parts []*genai.Part
		if m.File != nil && m.File.URI != "" {
			parts = append(parts, genai.NewPartFromURI(m.File.URI, m.File.MIMEType))
		}
		parts = append(parts, genai.NewPartFromText(m.Content))
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if schema.JSON == nil && schema.Instruction != "" && len(contents) > 0 {
		last := contents[len(contents)-1]
		last.Parts = append(last.Parts, genai.NewPartFromText(schema.Instruction))
	}

	log.Debug("structured request",
		zap.String("model", c.structuredModel),
		zap.Int("messages", len(contents)),
		zap.String("schema", schema.Name))

	resp, err := c.client.Models.GenerateContent(ctx, c.structuredModel, contents, cfg)
	if err != nil {
		return nil, newError(providerGemini, op, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, newError(providerGemini, op, ErrNoCandidates)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, newError(providerGemini, op, ErrNoText)
	}
	obj, err := decodeObject(text)
	if err != nil {
		return nil, newError(providerGemini, op, err)
	}
	return obj, nil
}

// UploadFile hosts path with the Gemini Files API.
func (c *GeminiClient) UploadFile(ctx context.Context, path, mimeType string) (FileRef, error) {
	const op = "upload_file"
	if c.client == nil {
		return FileRef{}, newError(providerGemini, op, ErrNoAPIKey)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	logging.WithContext(ctx, c.logger).Debug("uploading file",
		zap.String("path", path),
		zap.String("mime", mimeType))

	f, err := c.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return FileRef{}, newError(providerGemini, op, fmt.Errorf("failed to upload %s: %w", path, err))
	}

	ref := FileRef{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType, ExpiresAt: f.ExpirationTime}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

// decodeObject parses a structured answer, tolerating fences and
// concatenated objects.
func decodeObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(extract.JSON(text)), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse structured response: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("failed to parse structured response: not an object")
	}
	return obj, nil
}
