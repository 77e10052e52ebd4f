package docext

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiVision implements VisionModel against the Gemini API.
type GeminiVision struct {
	client *genai.Client
}

func NewGeminiVision(ctx context.Context, apiKey string) (*GeminiVision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiVision{client: client}, nil
}

func (v *GeminiVision) GenerateWithFile(ctx context.Context, model, prompt, mimeType string, data []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := v.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}
