package classify

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini vision backend.
type GeminiConfig struct {
	APIKey    string
	ModelName string
}

// GeminiBackend sends frames to the Gemini API for description and
// threat classification.
type GeminiBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	logger *zap.Logger
}

// NewGeminiBackend creates a Gemini-backed classifier backend.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash-exp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.3),
		TopP:            genai.Ptr[float32](0.9),
		MaxOutputTokens: genai.Ptr[int32](500),
	}

	logger.Info("gemini backend initialized", zap.String("model", cfg.ModelName))

	return &GeminiBackend{
		client: client,
		model:  model,
		name:   "gemini/" + cfg.ModelName,
		logger: logger,
	}, nil
}

// Name returns the backend identifier.
func (b *GeminiBackend) Name() string { return b.name }

// Generate issues one classification request with the frame attached.
func (b *GeminiBackend) Generate(ctx context.Context, jpegFrame []byte, prompt string) (string, error) {
	resp, err := b.model.GenerateContent(ctx,
		genai.ImageData("jpeg", jpegFrame),
		genai.Text(prompt),
	)
	if err != nil {
		if isTransportError(err) {
			return "", fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return "", fmt.Errorf("gemini request: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response part type from gemini")
	}
	return string(text), nil
}

// Close releases the underlying API client.
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

// isTransportError reports whether the failure is worth a retry:
// network errors, timeouts, rate limits and server-side errors.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}
