package arena

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ports"
)

// stubClient is a canned ports.LLMClient for pipeline tests.
type stubClient struct {
	mu        sync.Mutex
	response  string
	tokens    int // -1 means unreported
	err       error
	callCount int
	prompts   []string
}

func (c *stubClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	text, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return text, err
}

func (c *stubClient) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCount++
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", 0, 0, c.err
	}
	return c.response, c.tokens, c.tokens, nil
}

func (c *stubClient) GetModel() string { return "stub-model" }

func (c *stubClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

func (c *stubClient) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

// stubRegistry hands out stub clients by provider id.
type stubRegistry struct {
	clients map[domain.ProviderID]*stubClient
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{clients: make(map[domain.ProviderID]*stubClient)}
}

func (r *stubRegistry) add(id domain.ProviderID, client *stubClient) *stubRegistry {
	r.clients[id] = client
	return r
}

func (r *stubRegistry) Client(id domain.ProviderID) (ports.LLMClient, error) {
	client, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, id)
	}
	return client, nil
}

// validVerdictJSON builds a judge response naming winner over the
// given labels.
func validVerdictJSON(winner string) string {
	return fmt.Sprintf(`{
		"winner": %q,
		"confidence": 0.85,
		"summary": "clear and accurate",
		"reasoning": ["it answered the question", "no factual errors"],
		"scores": {
			"A": {"accuracy": 9, "completeness": 8, "clarity": 9, "conciseness": 7, "overall": 8.5},
			"B": {"accuracy": 6, "completeness": 7, "clarity": 8, "conciseness": 8, "overall": 7}
		}
	}`, winner)
}
