package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// CorrectorService fixes transcription artifacts in subtitle text before
// compositing begins. It is strictly best-effort: any failure falls back to
// the uncorrected text rather than failing the sentence.
type CorrectorService struct {
	client *openai.Client
}

func NewCorrectorService(apiKey string) *CorrectorService {
	return &CorrectorService{
		client: openai.NewClient(apiKey),
	}
}

const correctorSystemPrompt = `You fix subtitle text for a narrated video. ` +
	`Correct punctuation, casing, and obvious transcription mistakes. ` +
	`Do not rephrase, translate, summarize, or add words. ` +
	`Reply with the corrected text only.`

// CorrectSubtitle returns corrected subtitle text using the given model.
// The caller decides whether to use the result; errors mean "use the raw text".
func (s *CorrectorService) CorrectSubtitle(ctx context.Context, text, model string) (string, error) {
	if s == nil || s.client == nil {
		return text, fmt.Errorf("subtitle corrector not configured")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: correctorSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return text, fmt.Errorf("subtitle correction failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return text, fmt.Errorf("subtitle correction returned no choices")
	}

	corrected := strings.TrimSpace(resp.Choices[0].Message.Content)
	if corrected == "" {
		return text, fmt.Errorf("subtitle correction returned empty text")
	}

	log.Printf("[Corrector] Corrected subtitle (%d -> %d chars)", len(text), len(corrected))
	return corrected, nil
}
