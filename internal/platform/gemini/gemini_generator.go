package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models used by the Generator.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements the generation.Generator interface using
// Google's Gemini API.
type Generator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// promptTemplate is the parsed template for creating prompts
	promptTemplate *template.Template

	// models issues GenerateContent requests
	models contentGenerator

	// model is the name of the Gemini model to use
	model string
}

// NewGenerator creates a Gemini-backed generator.
//
// Parameters:
//   - ctx: Context for initialization
//   - logger: A structured logger for operation logging
//   - cfg: LLM configuration containing API key, model name and prompt template path
//
// Returns:
//   - A properly initialized Generator or an error wrapping generation.ErrInvalidConfig
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := validateConfig(ctx, logger, cfg); err != nil {
		return nil, err
	}

	promptTemplate, err := loadPromptTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "Gemini generator initialized", "model", cfg.ModelName)

	return newGenerator(logger, promptTemplate, client.Models, cfg.ModelName), nil
}

func newGenerator(
	logger *slog.Logger,
	promptTemplate *template.Template,
	models contentGenerator,
	model string,
) *Generator {
	return &Generator{
		logger:         logger,
		promptTemplate: promptTemplate,
		models:         models,
		model:          model,
	}
}

// loadPromptTemplate reads and parses the prompt template file.
func loadPromptTemplate(path string) (*template.Template, error) {
	templateContent, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v",
			generation.ErrInvalidConfig, path, err)
	}

	promptTemplate, err := template.New("item").Option("missingkey=zero").Parse(string(templateContent))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v",
			generation.ErrInvalidConfig, err)
	}

	return promptTemplate, nil
}

// createPrompt renders the prompt for one item.
func (g *Generator) createPrompt(item domain.Item) (string, error) {
	var promptBuffer bytes.Buffer
	if err := g.promptTemplate.Execute(&promptBuffer, newPromptData(item.ID, item.Payload)); err != nil {
		return "", fmt.Errorf("%w: failed to execute prompt template: %v", generation.ErrInvalidInput, err)
	}

	prompt := strings.TrimSpace(promptBuffer.String())
	if prompt == "" {
		return "", fmt.Errorf("%w: %w", generation.ErrInvalidInput, ErrEmptyPrompt)
	}

	return prompt, nil
}

// Generate makes exactly one call to the Gemini API for the item.
//
// The response must be valid JSON. Errors wrap the generation sentinels:
// rate limits and server-side failures are transient, everything the service
// rejects or returns malformed is permanent.
func (g *Generator) Generate(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	prompt, err := g.createPrompt(item)
	if err != nil {
		return nil, err
	}

	g.logger.DebugContext(ctx, "Making Gemini API call",
		"item_id", item.ID,
		"prompt_length", len(prompt))

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, classifyError(err)
	}

	output, err := extractOutput(resp)
	if err != nil {
		return nil, err
	}

	g.logger.DebugContext(ctx, "Gemini API call successful",
		"item_id", item.ID,
		"output_length", len(output))

	return output, nil
}

// extractOutput validates a response and returns its JSON text.
func extractOutput(resp *genai.GenerateContentResponse) (json.RawMessage, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked (%s)",
			generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}

	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	raw := bytes.TrimSpace([]byte(text.String()))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not valid JSON", generation.ErrInvalidResponse)
	}

	return json.RawMessage(raw), nil
}

// classifyError maps an API error onto the generation taxonomy.
// Errors that carry no HTTP status (connection resets, DNS failures) are
// treated as transient.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, ok := apiErrorCode(err)
	if !ok {
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	}

	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", generation.ErrRateLimited, err)
	case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", generation.ErrAuthentication, err)
	default:
		return fmt.Errorf("%w: %w", generation.ErrInvalidInput, err)
	}
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}

	return 0, false
}

var _ generation.Generator = (*Generator)(nil)
