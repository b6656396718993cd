package providers

import (
	"sync"
)

// Valid ranges for common request parameters, shared by all backends.
const (
	// MinTemperature and MaxTemperature bound the sampling temperature.
	// The upper bound is 2.0 to accommodate Gemini.
	MinTemperature = 0.0
	MaxTemperature = 2.0

	// DefaultMaxTokens caps generation length when the caller does not
	// specify one.
	DefaultMaxTokens = 1024

	// UnknownTokens marks a token count the backend did not report.
	// Unknown is distinct from zero and must stay that way downstream.
	UnknownTokens = -1
)

// RequestOptions is the standardized parameter set extracted from the
// generic options map each call carries.
type RequestOptions struct {
	// MaxTokens bounds the generated response length.
	MaxTokens int
	// Model overrides the client's configured model for this call.
	Model string
	// Temperature controls sampling randomness. Nil uses the backend
	// default.
	Temperature *float64
	// System is an optional system prompt, applied in whatever way the
	// backend supports.
	System string
}

// ParseRequestOptions extracts standardized parameters from an options
// map, falling back to defaults for anything missing or out of range.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: extractInt(opts, "max_tokens", DefaultMaxTokens),
		Model:     extractString(opts, "model", defaultModel),
		System:    extractString(opts, "system", ""),
	}
	if temp, ok := extractFloat(opts, "temperature"); ok && temp >= MinTemperature && temp <= MaxTemperature {
		options.Temperature = &temp
	}
	return options
}

func extractInt(opts map[string]any, key string, def int) int {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(int); ok && v > 0 {
		return v
	}
	return def
}

func extractString(opts map[string]any, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

func extractFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// ClampFloat64 clamps val into [min, max].
func ClampFloat64(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// BaseProvider holds the model name shared by every backend
// implementation, with thread-safe access.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model name.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model for subsequent requests.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// reportedTokens normalizes an API-reported token count: a positive
// figure passes through, anything else becomes UnknownTokens.
func reportedTokens(n int64) int {
	if n > 0 {
		return int(n)
	}
	return UnknownTokens
}

// EstimateTokens approximates a token count from text length, roughly
// four characters per token for English text. Used only for metrics
// when the backend reports nothing; never fed back into results.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
