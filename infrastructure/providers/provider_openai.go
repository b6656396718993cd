package providers

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// OpenAIDefaultModel is the default model for the OpenAI backend.
	OpenAIDefaultModel = "gpt-4o"

	// DeepSeekDefaultModel is the default model for the DeepSeek
	// backend, which speaks the OpenAI chat protocol.
	DeepSeekDefaultModel = "deepseek-chat"

	// DeepSeekBaseURL is DeepSeek's OpenAI-compatible endpoint.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

func init() {
	RegisterProviderFactory("openai", func(config ClientConfig) (CoreLLM, error) {
		return newOpenAICompatProvider("openai", OpenAIDefaultModel, config)
	})
	RegisterProviderFactory("deepseek", func(config ClientConfig) (CoreLLM, error) {
		if config.BaseURL == "" {
			config.BaseURL = DeepSeekBaseURL
		}
		return newOpenAICompatProvider("deepseek", DeepSeekDefaultModel, config)
	})
}

// openAICompatProvider implements CoreLLM for any backend speaking the
// OpenAI chat completion protocol. DeepSeek reuses it with a different
// base URL and default model.
type openAICompatProvider struct {
	BaseProvider
	name            string
	client          *openai.Client
	errorClassifier *ErrorClassifier
}

func newOpenAICompatProvider(name, defaultModel string, config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	p := &openAICompatProvider{
		name:            name,
		client:          openai.NewClientWithConfig(clientConfig),
		errorClassifier: &ErrorClassifier{Provider: name},
	}
	p.SetModel(model)
	return p, nil
}

// DoRequest sends a chat completion request and returns the response
// text and token usage.
func (p *openAICompatProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}
	content := resp.Choices[0].Message.Content

	tokensIn := reportedTokens(int64(resp.Usage.PromptTokens))
	tokensOut := reportedTokens(int64(resp.Usage.CompletionTokens))

	return content, tokensIn, tokensOut, nil
}

func (p *openAICompatProvider) buildRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: messages,
	}
	if options.Temperature != nil {
		// OpenAI accepts temperatures up to 2.0.
		req.Temperature = float32(ClampFloat64(*options.Temperature, 0.0, 2.0))
	}
	if options.MaxTokens > 0 {
		req.MaxTokens = options.MaxTokens
	}
	return req
}

func (p *openAICompatProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	return NewProviderError(p.name, ErrorTypeUnknown, 0, "request failed", err)
}
