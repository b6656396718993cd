package domain

// Label is the anonymized positional designator assigned to a
// successful fan-out result for the duration of one judged request.
// Labels are assigned in success order (first success gets LabelA) and
// carry no identity beyond that single request.
type Label string

const (
	LabelA Label = "A"
	LabelB Label = "B"
	LabelC Label = "C"
	LabelD Label = "D"

	// LabelTie is the winner designator when the judge declares no
	// single winner.
	LabelTie Label = "tie"
)

// LabelAlphabet is the fixed label sequence shown to the judge. Slots
// beyond the number of successful results are filled with an explicit
// placeholder the judge is instructed to ignore.
var LabelAlphabet = []Label{LabelA, LabelB, LabelC, LabelD}

// LabelMap translates request-scoped labels back to provider ids so
// callers can reveal which backend authored which response once the
// blind phase is over.
type LabelMap map[Label]ProviderID

// LabelScores is the judge's per-label score card. All values are on a
// 0-10 scale.
type LabelScores struct {
	Accuracy     float64 `json:"accuracy" validate:"min=0,max=10"`
	Completeness float64 `json:"completeness" validate:"min=0,max=10"`
	Clarity      float64 `json:"clarity" validate:"min=0,max=10"`
	Conciseness  float64 `json:"conciseness" validate:"min=0,max=10"`
	Overall      float64 `json:"overall" validate:"min=0,max=10"`
}

// HallucinationFlag marks labels whose answers diverge from the
// majority on a concrete fact.
type HallucinationFlag struct {
	Suspects []Label `json:"suspects" validate:"required,min=1"`
	Reason   string  `json:"reason" validate:"required"`
}

// Verdict is the judge's structured evaluation of the labeled fan-out
// results. Every label referenced in Scores and Hallucination must
// correspond to a result that was actually shown to the judge.
type Verdict struct {
	// Winner is the winning label, or LabelTie.
	Winner Label `json:"winner" validate:"required"`

	// Confidence is the judge's certainty in [0,1].
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`

	// Summary is a one-line justification.
	Summary string `json:"summary" validate:"required"`

	// Reasoning lists the judge's reasoning points in order.
	Reasoning []string `json:"reasoning" validate:"required,min=1"`

	// Scores holds the per-label score cards.
	Scores map[Label]LabelScores `json:"scores" validate:"required,min=1"`

	// Hallucination is set when the judge suspects a factual outlier.
	Hallucination *HallucinationFlag `json:"hallucination,omitempty"`
}
