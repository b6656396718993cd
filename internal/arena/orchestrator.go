// Package arena implements the comparison pipeline: concurrent
// fan-out to the selected LLM backends, the optional blind judge and
// fusion stages, and the credit lifecycle around them.
//
// The money flow is hold-and-refund. The full quote is held before any
// provider call; after the fan-out and optional stages settle, only
// the cost of what actually delivered is kept and the rest returns to
// the balance. A request that fails validation or authorization has no
// side effects at all; once dispatching begins, settlement and the
// usage record always happen.
package arena

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ledger"
	"github.com/iliarafa/llmarena/internal/ports"
	"github.com/iliarafa/llmarena/internal/pricing"
)

var requestValidator = validator.New()

// ErrInvalidRequest wraps all input-validation failures. Requests
// failing validation are rejected before any balance check or provider
// call.
var ErrInvalidRequest = fmt.Errorf("invalid comparison request")

// Orchestrator composes one comparison end to end:
// Quoting, Authorizing, Dispatching, Judging/Synthesizing, Settling.
type Orchestrator struct {
	dispatcher *Dispatcher
	judge      *Judge
	fusion     *Fusion
	pricing    *pricing.Policy
	ledger     *ledger.Ledger
	metrics    ports.MetricsCollector
	log        *zap.Logger
}

// NewOrchestrator wires the comparison pipeline. metrics may be nil.
func NewOrchestrator(
	dispatcher *Dispatcher,
	judge *Judge,
	fusion *Fusion,
	policy *pricing.Policy,
	l *ledger.Ledger,
	metrics ports.MetricsCollector,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		judge:      judge,
		fusion:     fusion,
		pricing:    policy,
		ledger:     l,
		metrics:    metrics,
		log:        log,
	}
}

// Compare runs one comparison for the given principal. Validation and
// authorization failures return an error with no side effects. Any
// other failure mode settles into the outcome: per-provider errors,
// judge errors, and fusion errors all surface as fields while the
// comparison itself succeeds.
func (o *Orchestrator) Compare(ctx context.Context, p domain.Principal, req domain.ComparisonRequest) (*domain.ComparisonOutcome, error) {
	if err := o.validateRequest(req); err != nil {
		o.recordState("rejected_invalid")
		return nil, err
	}

	// Quoting: price the declared intent.
	quote, err := o.pricing.QuoteComparison(len(req.Providers), req.JudgeRequested(), req.FusionRequested())
	if err != nil {
		o.recordState("rejected_invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Authorizing: hold the full quote. Insufficient funds reject the
	// request with nothing spent and nothing logged.
	auth, err := o.ledger.Authorize(ctx, p, quote.Total())
	if err != nil {
		o.recordState("rejected_unauthorized")
		return nil, err
	}

	o.log.Info("comparison authorized",
		zap.String("principal", p.String()),
		zap.Int("providers", len(req.Providers)),
		zap.Bool("judge", req.JudgeRequested()),
		zap.Bool("fusion", req.FusionRequested()),
		zap.Int("quote", quote.Total()),
	)

	// Dispatching: from here on the comparison always settles. The
	// caller may abandon the request, but the hold is already placed,
	// so in-flight provider calls run to their own timeouts and
	// settlement still reaches the store.
	ctx = context.WithoutCancel(ctx)
	outcome := &domain.ComparisonOutcome{
		Results: o.dispatcher.Dispatch(ctx, req.Prompt, req.Providers),
	}

	// Judging/Synthesizing: independent of each other, so they run
	// concurrently. Failures are recovered into outcome fields and
	// excluded from the actual cost.
	o.runOptionalStages(ctx, req, outcome)

	// Settling: charge only for what delivered, refund the rest.
	actual := o.pricing.ActualCost(
		outcome.SucceededCount(),
		outcome.Verdict != nil,
		outcome.Synthesis != "",
	)
	charged, balance, err := o.ledger.Settle(ctx, auth, actual)
	if err != nil {
		return nil, fmt.Errorf("settle comparison: %w", err)
	}
	outcome.CreditsCharged = charged
	outcome.BalanceRemaining = balance

	o.recordState("logged")
	if o.metrics != nil {
		o.metrics.RecordCounter("credits_charged_total", float64(charged), nil)
	}
	o.log.Info("comparison settled",
		zap.String("principal", p.String()),
		zap.Int("succeeded", outcome.SucceededCount()),
		zap.Int("charged", charged),
	)
	return outcome, nil
}

func (o *Orchestrator) runOptionalStages(ctx context.Context, req domain.ComparisonRequest, outcome *domain.ComparisonOutcome) {
	g, ctx := errgroup.WithContext(ctx)

	if req.JudgeRequested() {
		g.Go(func() error {
			verdict, labels, err := o.judge.Evaluate(ctx, req.Prompt, outcome.Results, req.Judge.Provider)
			if err != nil {
				outcome.VerdictError = err.Error()
				return nil
			}
			outcome.Verdict = verdict
			outcome.Labels = labels
			return nil
		})
	}

	if req.FusionRequested() {
		g.Go(func() error {
			synthesis, err := o.fusion.Synthesize(ctx, req.Prompt, outcome.Results, req.Fusion.Provider)
			if err != nil {
				outcome.SynthesisError = err.Error()
				return nil
			}
			outcome.Synthesis = synthesis
			return nil
		})
	}

	// Stage goroutines recover their own failures; Wait is a join.
	_ = g.Wait()
}

func (o *Orchestrator) validateRequest(req domain.ComparisonRequest) error {
	if err := requestValidator.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, id := range req.Providers {
		if !id.Valid() {
			return fmt.Errorf("%w: %v: %s", ErrInvalidRequest, domain.ErrUnknownProvider, id)
		}
	}
	if req.Judge.Enabled && !req.Judge.Provider.Valid() {
		return fmt.Errorf("%w: judge provider %q", ErrInvalidRequest, req.Judge.Provider)
	}
	if req.Fusion.Enabled && !req.Fusion.Provider.Valid() {
		return fmt.Errorf("%w: fusion provider %q", ErrInvalidRequest, req.Fusion.Provider)
	}
	return nil
}

func (o *Orchestrator) recordState(state string) {
	if o.metrics != nil {
		o.metrics.RecordCounter("comparisons_total", 1, map[string]string{"state": state})
	}
}
