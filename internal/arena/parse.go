package arena

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/iliarafa/llmarena/internal/domain"
)

var verdictValidator = validator.New()

// extractJSON pulls the first JSON object out of a model response,
// tolerating surrounding prose and markdown code fences. Returns ""
// when no balanced object is found.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	// Prefer an explicit json code block.
	if start := strings.Index(response, "```json"); start != -1 {
		start += 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	// Then a generic code block, if its body looks like JSON.
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if newlineIdx := strings.Index(response[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	// Fall back to the first balanced top-level object, tracking
	// strings and escapes so braces inside values do not miscount.
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(response); i++ {
		char := response[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}

// normalizeLabel maps a judge-written winner designator onto one of the
// shown labels or the tie marker. Judges paraphrase: "Response B",
// "b", "TIE.", unicode variants. Normalization is unicode fold plus a
// token scan, with an edit-distance fallback for near-misses of "tie".
func normalizeLabel(raw string, shown []domain.Label) (domain.Label, error) {
	folded := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(raw)))
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r == ' ' {
			return r
		}
		return ' '
	}, folded)

	tokens := strings.Fields(cleaned)
	for i := len(tokens) - 1; i >= 0; i-- {
		token := tokens[i]
		if token == "tie" || token == "draw" {
			return domain.LabelTie, nil
		}
		for _, label := range shown {
			if token == cases.Fold().String(string(label)) {
				return label, nil
			}
		}
	}

	// A lone near-miss of "tie" ("tied", "tie!") still counts; fuzzy
	// matching inside longer phrases would catch common words.
	if len(tokens) == 1 && levenshtein.ComputeDistance(tokens[0], "tie") == 1 {
		return domain.LabelTie, nil
	}

	return "", fmt.Errorf("%w: unrecognized winner %q", domain.ErrVerdictParse, raw)
}

// parseVerdict turns a raw judge response into a validated Verdict.
// Every label the verdict references must be one the judge was shown
// with a real response.
func parseVerdict(raw string, labels domain.LabelMap) (*domain.Verdict, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", domain.ErrVerdictParse)
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVerdictParse, err)
	}

	if err := verdictValidator.Struct(verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVerdictParse, err)
	}

	shown := make([]domain.Label, 0, len(labels))
	for _, label := range domain.LabelAlphabet {
		if _, ok := labels[label]; ok {
			shown = append(shown, label)
		}
	}

	winner, err := normalizeLabel(string(verdict.Winner), shown)
	if err != nil {
		return nil, err
	}
	verdict.Winner = winner

	for label := range verdict.Scores {
		if _, ok := labels[label]; !ok {
			return nil, fmt.Errorf("%w: score references unshown label %q", domain.ErrVerdictParse, label)
		}
	}
	if verdict.Hallucination != nil {
		for _, suspect := range verdict.Hallucination.Suspects {
			if _, ok := labels[suspect]; !ok {
				return nil, fmt.Errorf("%w: hallucination references unshown label %q", domain.ErrVerdictParse, suspect)
			}
		}
	}

	return &verdict, nil
}
