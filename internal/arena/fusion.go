package arena

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ports"
)

var fusionOptions = map[string]any{
	"temperature": 0.3,
	"max_tokens":  2048,
}

// Fusion runs the synthesis stage: one designated engine turns all
// successful results into a single best answer. The output is free
// text; no parsing beyond trimming.
type Fusion struct {
	registry ports.ClientRegistry
	log      *zap.Logger
}

// NewFusion creates a Fusion synthesizer.
func NewFusion(registry ports.ClientRegistry, log *zap.Logger) *Fusion {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fusion{registry: registry, log: log}
}

// Synthesize fuses the successful results into one answer. With fewer
// than two successes it returns domain.ErrInsufficientResults without
// consuming a provider call.
func (f *Fusion) Synthesize(ctx context.Context, prompt string, results []domain.ProviderResult, engineProvider domain.ProviderID) (string, error) {
	entries, labels := labelResults(results)
	if len(labels) < 2 {
		return "", fmt.Errorf("fusion: %w", domain.ErrInsufficientResults)
	}

	client, err := f.registry.Client(engineProvider)
	if err != nil {
		return "", fmt.Errorf("fusion: %w", err)
	}

	fusionPrompt, err := renderFusionPrompt(prompt, entries)
	if err != nil {
		return "", fmt.Errorf("fusion: %w", err)
	}

	text, err := client.Complete(ctx, fusionPrompt, fusionOptions)
	if err != nil {
		f.log.Warn("fusion call failed",
			zap.String("engine_provider", string(engineProvider)),
			zap.Error(err),
		)
		return "", fmt.Errorf("fusion: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("fusion: empty synthesis from %s", engineProvider)
	}

	f.log.Info("synthesis delivered",
		zap.String("engine_provider", string(engineProvider)),
		zap.Int("length", len(text)),
	)
	return text, nil
}
