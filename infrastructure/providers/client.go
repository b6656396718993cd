// Package providers unifies the supported LLM backends behind a single
// client interface with a middleware chain for timeouts, retries, rate
// limiting, metrics, and tracing.
//
// Each backend implementation stays entirely inside its own file;
// nothing provider-specific leaks past the CoreLLM boundary. New
// backends register a factory in an init function.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/iliarafa/llmarena/internal/ports"
)

// CoreLLM is the minimal contract a backend implementation must
// satisfy. The middleware chain wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the backend and returns the response
	// text plus input/output token counts. A count of -1 means the
	// backend reported no usage figure.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model used for subsequent requests.
	SetModel(model string)
}

// Middleware wraps a CoreLLM to add cross-cutting behavior. Middleware
// composes; the first entry in a chain becomes the outermost wrapper.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig holds the settings needed to construct one backend
// client.
type ClientConfig struct {
	// APIKey authenticates requests to the backend.
	APIKey string

	// Model selects the backend model. Empty uses the backend default.
	Model string

	// BaseURL overrides the backend's default endpoint. Used by the
	// DeepSeek client, which speaks the OpenAI protocol against its own
	// host.
	BaseURL string

	// Timeout bounds each individual request. Zero means no timeout.
	Timeout time.Duration

	// Middleware is applied outermost-first around the core client.
	Middleware []Middleware
}

// Client implements ports.LLMClient over a middleware-wrapped CoreLLM.
type Client struct {
	core CoreLLM
}

// ProviderFactory builds a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a backend implementation under a
// provider type name. Called from init functions in the provider files.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// NewClient assembles a backend client with its middleware chain.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", providerType, err)
	}

	// Apply middleware in reverse so the first entry is outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{core: core}, nil
}

var _ ports.LLMClient = (*Client)(nil)

// Complete sends a prompt and returns the response text, discarding
// token usage.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	text, _, _, err := c.core.DoRequest(ctx, prompt, options)
	return text, err
}

// CompleteWithUsage sends a prompt and returns the response text along
// with token usage. Counts of -1 mean the backend reported none.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// GetModel returns the configured model of the underlying backend.
func (c *Client) GetModel() string { return c.core.GetModel() }
