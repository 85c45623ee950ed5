package tokens

import (
	"unicode/utf8"

	"mercator-hq/gatekeeper/pkg/config"
)

const (
	// messageOverhead approximates the role and boundary tokens each chat
	// message adds.
	messageOverhead = 4

	// requestOverhead approximates the priming tokens of a chat request.
	requestOverhead = 3
)

// Document is the input to one completion.
type Document struct {
	// System is the optional system prompt.
	System string

	// Body is the user content.
	Body string

	// MaxTokens caps the completion. When positive it replaces the
	// configured completion allowance.
	MaxTokens uint64
}

// Estimate breaks a document estimate down.
type Estimate struct {
	// Prompt is the estimated prompt size including formatting overhead.
	Prompt uint64

	// Completion is the reserved completion allowance.
	Completion uint64

	// Total is Prompt plus Completion.
	Total uint64
}

// Estimator converts text into token estimates. The zero value is not
// usable; construct one with NewEstimator.
type Estimator struct {
	charsPerToken float64
	allowance     uint64
}

// NewEstimator returns an estimator for the given settings. A nil cfg
// selects the defaults.
func NewEstimator(cfg *config.TokensConfig) *Estimator {
	e := &Estimator{
		charsPerToken: config.DefaultCharsPerToken,
		allowance:     config.DefaultCompletionAllowance,
	}
	if cfg != nil {
		if cfg.CharsPerToken > 0 {
			e.charsPerToken = cfg.CharsPerToken
		}
		e.allowance = cfg.CompletionAllowance
	}
	return e
}

// EstimateText estimates the tokens in text. Non-empty text is at least
// one token.
func (e *Estimator) EstimateText(text string) uint64 {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	tokens := float64(chars) / e.charsPerToken
	if tokens < 1.0 {
		return 1
	}
	return uint64(tokens + 0.5)
}

// EstimateDocument estimates a single-turn completion over doc.
func (e *Estimator) EstimateDocument(doc Document) Estimate {
	prompt := uint64(requestOverhead)
	if doc.System != "" {
		prompt += e.EstimateText(doc.System) + messageOverhead
	}
	prompt += e.EstimateText(doc.Body) + messageOverhead

	completion := e.allowance
	if doc.MaxTokens > 0 {
		completion = doc.MaxTokens
	}

	return Estimate{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
	}
}
