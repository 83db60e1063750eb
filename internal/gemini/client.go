// Package gemini implements the hosted chat model client on top of
// Google's Gemini API. The rest of the application talks to it through the
// Client and Session interfaces and never sees SDK types.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/leisuredna/curator/internal/config"
)

// Session is one live remote chat. The server-side history is owned by the
// SDK; callers only exchange text (optionally with an opaque image part).
type Session interface {
	Send(ctx context.Context, text string) (string, error)
	SendImage(ctx context.Context, text, mimeType string, data []byte) (string, error)
}

// Client opens chat sessions against a given model identifier. StartChat
// sends prompt as the first turn and returns the session together with the
// model's opening reply.
type Client interface {
	StartChat(ctx context.Context, model, prompt string) (Session, string, error)
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	timeout       time.Duration
}

// NewClient creates a new Gemini client with the provided configuration.
// It fails when the API key is missing; that is a fatal startup condition.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	contentCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "models", cfg.Models, "timeout", cfg.Timeout)
	return &sdkClient{
		genaiClient:   gi,
		log:           logger,
		contentConfig: contentCfg,
		timeout:       cfg.Timeout,
	}, nil
}

// StartChat creates a chat against model and forwards prompt as the first
// turn. There is no retry here; candidate-model fallback is the caller's
// concern and is a one-shot ordered probe, not a resilience mechanism.
func (c *sdkClient) StartChat(ctx context.Context, model, prompt string) (Session, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chat, err := c.genaiClient.Chats.Create(ctx, model, c.contentConfig, nil)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to create chat", "model", model, "error", err)
		return nil, "", fmt.Errorf("failed to create chat with model %s: %w", model, err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		c.log.WarnContext(ctx, "Opening message failed", "model", model, "error", err)
		return nil, "", fmt.Errorf("opening message failed for model %s: %w", model, err)
	}

	opening, err := extractText(resp)
	if err != nil {
		return nil, "", fmt.Errorf("opening message for model %s: %w", model, err)
	}

	c.log.InfoContext(ctx, "Chat session opened", "model", model)
	return &sdkSession{chat: chat, log: c.log, timeout: c.timeout}, opening, nil
}

type sdkSession struct {
	chat    *genai.Chat
	log     *slog.Logger
	timeout time.Duration
}

func (s *sdkSession) Send(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		s.log.ErrorContext(ctx, "Chat turn failed", "error", err)
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	return extractText(resp)
}

// SendImage forwards text together with an image part. The image is opaque
// to this layer; interpretation is entirely the model's.
func (s *sdkSession) SendImage(ctx context.Context, text, mimeType string, data []byte) (string, error) {
	if len(data) == 0 || mimeType == "" {
		return "", fmt.Errorf("image data and MIME type are required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parts := []genai.Part{
		{Text: text},
		*genai.NewPartFromBytes(data, mimeType),
	}
	resp, err := s.chat.SendMessage(ctx, parts...)
	if err != nil {
		s.log.ErrorContext(ctx, "Chat image turn failed", "error", err)
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	return extractText(resp)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("request blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("model returned no content, finish reason: %s", finishReason)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return text, nil
}
