package generator

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// chatCompleter is the subset of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI generates replies with any OpenAI-compatible chat completion API.
type OpenAI struct {
	client   chatCompleter
	settings Settings
}

// NewOpenAI creates an OpenAI-compatible generator. An empty baseURL targets
// the public OpenAI endpoint.
func NewOpenAI(apiKey, baseURL string, settings Settings) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIWithClient(openai.NewClientWithConfig(cfg), settings)
}

func newOpenAIWithClient(client chatCompleter, settings Settings) *OpenAI {
	if settings.Model == "" {
		settings.Model = defaultOpenAIModel
	}
	return &OpenAI{client: client, settings: settings}
}

// Name implements Generator.
func (o *OpenAI) Name() string {
	return "openai"
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, pc PromptContext) (string, error) {
	ctx, cancel := withTimeout(ctx, o.settings.RequestTimeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if pc.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: pc.Instructions,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: pc.Render(),
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.settings.Model,
		Messages:    messages,
		Temperature: o.settings.Temperature,
		TopP:        o.settings.TopP,
		MaxTokens:   int(o.settings.MaxOutputTokens),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Provider: o.Name(), Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return &Error{
		Provider:   "openai",
		StatusCode: status,
		Transient:  isTransientStatus(status),
		Err:        err,
	}
}
