package domain

// ProviderID names one supported LLM backend.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGoogle    ProviderID = "google"
	ProviderDeepSeek  ProviderID = "deepseek"
)

// MaxCompareProviders bounds how many backends one comparison may fan
// out to.
const MaxCompareProviders = 4

// AllProviders lists the supported backends in canonical order.
func AllProviders() []ProviderID {
	return []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderDeepSeek}
}

// Valid reports whether the id names a supported backend.
func (id ProviderID) Valid() bool {
	switch id {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderDeepSeek:
		return true
	}
	return false
}

// JudgeDirective requests blind evaluation of the fan-out results by a
// designated judge model.
type JudgeDirective struct {
	// Enabled turns the judge stage on.
	Enabled bool `json:"enabled"`

	// Provider designates the judge backend. The judge may also be one
	// of the compared providers; the blind labeling keeps it honest.
	Provider ProviderID `json:"judge_provider_id,omitempty"`
}

// FusionDirective requests a synthesized answer built from all
// successful results.
type FusionDirective struct {
	// Enabled turns the synthesis stage on.
	Enabled bool `json:"enabled"`

	// Provider designates the synthesis backend.
	Provider ProviderID `json:"engine_provider_id,omitempty"`
}

// ComparisonRequest is one user request: a prompt, the providers to
// fan out to, and the optional judge and fusion stages.
type ComparisonRequest struct {
	// Prompt is the user's question, sent verbatim to every selected
	// provider.
	Prompt string `json:"prompt" validate:"required"`

	// Providers lists the selected backends, between 1 and
	// MaxCompareProviders, without duplicates.
	Providers []ProviderID `json:"providers" validate:"required,min=1,max=4,unique"`

	// Judge optionally requests blind evaluation.
	Judge JudgeDirective `json:"judge"`

	// Fusion optionally requests a synthesized answer.
	Fusion FusionDirective `json:"fusion"`
}

// JudgeRequested reports whether the judge stage was asked for with a
// valid provider.
func (r ComparisonRequest) JudgeRequested() bool {
	return r.Judge.Enabled && r.Judge.Provider.Valid()
}

// FusionRequested reports whether the synthesis stage was asked for
// with a valid provider.
func (r ComparisonRequest) FusionRequested() bool {
	return r.Fusion.Enabled && r.Fusion.Provider.Valid()
}

// ProviderResult is one provider's settled outcome: either a response
// or an error, never both, plus timing and whatever usage figures the
// backend reported.
type ProviderResult struct {
	// Provider names the backend this result came from.
	Provider ProviderID `json:"provider_id"`

	// Response is the generated text. Empty when Error is set.
	Response string `json:"response,omitempty"`

	// Error is the failure description. Empty when the call succeeded.
	Error string `json:"error,omitempty"`

	// LatencyMs is the wall-clock call duration in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Tokens is the backend-reported output token count. Nil when the
	// backend reported nothing; unknown is never rendered as zero.
	Tokens *int `json:"tokens,omitempty"`
}

// Succeeded reports whether this slot holds a usable response.
func (r ProviderResult) Succeeded() bool { return r.Error == "" }

// ComparisonOutcome is everything one comparison produced: per-provider
// results in request order, the optional verdict and synthesis, and
// the final charge.
type ComparisonOutcome struct {
	// Results holds one entry per requested provider, in request order.
	Results []ProviderResult `json:"results"`

	// Verdict is the judge's evaluation, nil when not requested or
	// failed.
	Verdict *Verdict `json:"verdict,omitempty"`

	// VerdictError describes a judge failure; the comparison itself
	// still succeeds.
	VerdictError string `json:"verdict_error,omitempty"`

	// Labels reveals which provider sat behind each judge label.
	Labels LabelMap `json:"labels,omitempty"`

	// Synthesis is the fused answer, empty when not requested or
	// failed.
	Synthesis string `json:"synthesis,omitempty"`

	// SynthesisError describes a fusion failure; the comparison itself
	// still succeeds.
	SynthesisError string `json:"synthesis_error,omitempty"`

	// CreditsCharged is the settled charge in whole credits.
	CreditsCharged int `json:"credits_charged"`

	// BalanceRemaining is the principal's balance after settlement.
	BalanceRemaining Credits `json:"balance_remaining"`
}

// SucceededCount returns how many provider slots hold usable
// responses.
func (o ComparisonOutcome) SucceededCount() int {
	n := 0
	for _, r := range o.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}
