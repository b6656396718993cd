// Package ports defines the interfaces the application core depends
// on, keeping provider SDKs and storage drivers out of the business
// logic.
package ports

import (
	"context"

	"github.com/iliarafa/llmarena/internal/domain"
)

// LLMClient is the uniform surface for one LLM backend. Implementations
// handle authentication, request formatting, response parsing, and
// provider-specific error classification.
type LLMClient interface {
	// Complete sends a prompt and returns the generated text.
	//
	// Common options: "temperature" (float64), "max_tokens" (int),
	// "system" (string), "model" (string).
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithUsage additionally reports input and output token
	// counts. A count of -1 means the backend exposed no figure.
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (text string, tokensIn, tokensOut int, err error)

	// GetModel returns the configured model identifier, for logging.
	GetModel() string
}

// ClientRegistry hands out a configured LLMClient per supported
// backend.
type ClientRegistry interface {
	// Client returns the client for the given backend, or
	// domain.ErrUnknownProvider when the backend is not configured.
	Client(id domain.ProviderID) (LLMClient, error)
}

// MetricsCollector abstracts the metrics backend so instrumented code
// does not depend on a concrete monitoring library.
type MetricsCollector interface {
	// RecordCounter increments a named counter by value.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordHistogram records an observation in a named histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)

	// RecordGauge sets a named gauge to value.
	RecordGauge(metric string, value float64, labels map[string]string)
}
