package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash-lite"

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates replies with the Google Gemini API.
type Gemini struct {
	models   contentGenerator
	settings Settings
}

// NewGemini creates a Gemini generator authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string, settings Settings) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiWithModels(client.Models, settings), nil
}

func newGeminiWithModels(models contentGenerator, settings Settings) *Gemini {
	if settings.Model == "" {
		settings.Model = defaultGeminiModel
	}
	return &Gemini{models: models, settings: settings}
}

// Name implements Generator.
func (g *Gemini) Name() string {
	return "gemini"
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, pc PromptContext) (string, error) {
	ctx, cancel := withTimeout(ctx, g.settings.RequestTimeout)
	defer cancel()

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: pc.Render()}},
	}}

	resp, err := g.models.GenerateContent(ctx, g.settings.Model, contents, g.config(pc))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text, err := geminiText(resp)
	if err != nil {
		return "", &Error{Provider: g.Name(), Err: err}
	}
	return text, nil
}

func (g *Gemini) config(pc PromptContext) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.settings.Temperature),
		MaxOutputTokens: g.settings.MaxOutputTokens,
		SafetySettings:  geminiSafetySettings(),
	}
	if g.settings.TopK > 0 {
		cfg.TopK = genai.Ptr(g.settings.TopK)
	}
	if g.settings.TopP > 0 {
		cfg.TopP = genai.Ptr(g.settings.TopP)
	}
	if pc.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: pc.Instructions}},
		}
	}
	return cfg
}

func geminiSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return settings
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("%w (finish reason %s)", ErrEmptyResponse, candidate.FinishReason)
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w (finish reason %s)", ErrEmptyResponse, candidate.FinishReason)
	}
	return b.String(), nil
}

// classifyGeminiError prefers the status code carried by genai.APIError. Only
// errors without one (transport failures, wrapped RPC errors) fall back to
// matching status names in the message.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: "gemini", Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Provider:   "gemini",
			StatusCode: apiErr.Code,
			Transient:  isTransientStatus(apiErr.Code),
			Err:        err,
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []struct {
		text string
		code int
	}{
		{"resource_exhausted", 429},
		{"rate limit", 429},
		{"unavailable", 503},
		{"overloaded", 503},
		{"deadline_exceeded", 504},
	} {
		if strings.Contains(msg, marker.text) {
			return &Error{Provider: "gemini", StatusCode: marker.code, Transient: true, Err: err}
		}
	}
	return &Error{Provider: "gemini", Err: err}
}
