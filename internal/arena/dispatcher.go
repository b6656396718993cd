package arena

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ports"
)

// Dispatcher fans one prompt out to the selected backends and joins
// all outcomes. Every slot settles: a failure becomes the error
// variant of its slot, never an abort of the siblings.
type Dispatcher struct {
	registry       ports.ClientRegistry
	log            *zap.Logger
	maxConcurrency int
}

// NewDispatcher creates a Dispatcher. maxConcurrency bounds parallel
// backend calls; zero or negative means one goroutine per provider.
func NewDispatcher(registry ports.ClientRegistry, log *zap.Logger, maxConcurrency int) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = domain.MaxCompareProviders
	}
	return &Dispatcher{registry: registry, log: log, maxConcurrency: maxConcurrency}
}

// Dispatch sends the prompt to every requested provider concurrently
// and returns one settled result per provider, in request order.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string, providers []domain.ProviderID) []domain.ProviderResult {
	results := make([]domain.ProviderResult, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConcurrency)

	for i, id := range providers {
		idx, providerID := i, id
		g.Go(func() error {
			results[idx] = d.callProvider(ctx, prompt, providerID)
			return nil
		})
	}
	// Workers never return errors; Wait is a pure join.
	_ = g.Wait()

	return results
}

// callProvider executes one backend call and settles it into a result.
// A panic in a provider SDK is recovered into the error variant; one
// misbehaving backend must not take down the comparison.
func (d *Dispatcher) callProvider(ctx context.Context, prompt string, id domain.ProviderID) (result domain.ProviderResult) {
	result = domain.ProviderResult{Provider: id}
	start := time.Now()

	defer func() {
		result.LatencyMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			d.log.Error("provider call panicked",
				zap.String("provider", string(id)),
				zap.Any("panic", r),
			)
			result.Response = ""
			result.Tokens = nil
			result.Error = fmt.Sprintf("provider %s: internal error", id)
		}
	}()

	client, err := d.registry.Client(id)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	text, _, tokensOut, err := client.CompleteWithUsage(ctx, prompt, nil)
	if err != nil {
		d.log.Warn("provider call failed",
			zap.String("provider", string(id)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result
	}

	result.Response = text
	if tokensOut >= 0 {
		result.Tokens = &tokensOut
	}

	d.log.Debug("provider call succeeded",
		zap.String("provider", string(id)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tokens_out", tokensOut),
	)
	return result
}
