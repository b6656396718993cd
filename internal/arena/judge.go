package arena

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ports"
)

// judgeOptions pin the judge call to deterministic, bounded output.
var judgeOptions = map[string]any{
	"temperature": 0.0,
	"max_tokens":  2048,
}

// Judge runs the blind evaluation stage: labels the successful
// results, asks the designated judge model for a structured verdict,
// and parses it strictly.
type Judge struct {
	registry ports.ClientRegistry
	log      *zap.Logger
}

// NewJudge creates a Judge.
func NewJudge(registry ports.ClientRegistry, log *zap.Logger) *Judge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Judge{registry: registry, log: log}
}

// Evaluate judges the fan-out results. With fewer than two successes
// it returns domain.ErrInsufficientResults without consuming a
// provider call. The returned LabelMap identifies which provider sat
// behind each label; it covers only real responses.
func (j *Judge) Evaluate(ctx context.Context, prompt string, results []domain.ProviderResult, judgeProvider domain.ProviderID) (*domain.Verdict, domain.LabelMap, error) {
	entries, labels := labelResults(results)
	if len(labels) < 2 {
		return nil, nil, fmt.Errorf("judge: %w", domain.ErrInsufficientResults)
	}

	client, err := j.registry.Client(judgeProvider)
	if err != nil {
		return nil, labels, fmt.Errorf("judge: %w", err)
	}

	judgePrompt, err := renderJudgePrompt(prompt, entries)
	if err != nil {
		return nil, labels, fmt.Errorf("judge: %w", err)
	}

	raw, err := client.Complete(ctx, judgePrompt, judgeOptions)
	if err != nil {
		j.log.Warn("judge call failed",
			zap.String("judge_provider", string(judgeProvider)),
			zap.Error(err),
		)
		return nil, labels, fmt.Errorf("judge: %w", err)
	}

	verdict, err := parseVerdict(raw, labels)
	if err != nil {
		j.log.Warn("judge verdict unparseable",
			zap.String("judge_provider", string(judgeProvider)),
			zap.Error(err),
		)
		return nil, labels, err
	}

	j.log.Info("verdict delivered",
		zap.String("judge_provider", string(judgeProvider)),
		zap.String("winner", string(verdict.Winner)),
		zap.Float64("confidence", verdict.Confidence),
	)
	return verdict, labels, nil
}
