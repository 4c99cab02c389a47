package classifier

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// FallbackClassifier is the optional model-based classifier consulted when no
// lexical rule clears the threshold. Implementations may be non-deterministic;
// the rule path never is.
type FallbackClassifier interface {
	ClassifyCategory(ctx context.Context, text string, labels []string) (string, error)
	ClassifyIntent(ctx context.Context, query string, labels []string) (string, error)
}

// Config holds the classification thresholds.
type Config struct {
	// RuleThreshold is the minimum rule score required to accept a lexical
	// match without consulting the model fallback.
	RuleThreshold float64
	// FallbackConfidence is reported for model-classified input.
	FallbackConfidence float64
	// FloorConfidence is reported for unrecognized input mapped to the
	// fallback category/intent.
	FloorConfidence float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		RuleThreshold:      0.35,
		FallbackConfidence: 0.55,
		FloorConfidence:    0.2,
	}
}

// Source names the classification layer that produced a category, recorded
// in metrics so rule coverage and model fallback rates stay observable.
type Source string

const (
	SourceRule  Source = "rule"
	SourceModel Source = "model"
	SourceFloor Source = "floor"
)

// Classifier maps raw text to a category and queries to an intent. It holds
// its rule tables explicitly; there is no package-level mutable state.
type Classifier struct {
	cfg      Config
	fallback FallbackClassifier
}

// New creates a classifier. fallback may be nil, in which case inconclusive
// input maps straight to the fallback category/intent.
func New(cfg Config, fallback FallbackClassifier) *Classifier {
	if cfg.RuleThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg, fallback: fallback}
}

// Classify returns the semantic category for a memory candidate together
// with the layer that decided it. The output is total: unrecognized input
// maps to CategoryGeneral with low confidence.
func (c *Classifier) Classify(ctx context.Context, text string) (Category, float64, Source) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CategoryGeneral, 0, SourceFloor
	}

	doc := newDocument(text)
	best := CategoryGeneral
	bestScore := 0.0
	for _, cat := range categoryPriority {
		score := scoreRules(doc, categoryRules[cat])
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}

	if bestScore >= c.cfg.RuleThreshold {
		return best, clamp1(bestScore), SourceRule
	}

	if c.fallback != nil {
		label, err := c.fallback.ClassifyCategory(ctx, text, CategoryNames())
		if err == nil {
			if cat, ok := ParseCategory(strings.TrimSpace(label)); ok {
				return cat, c.cfg.FallbackConfidence, SourceModel
			}
		} else {
			log.Warn().Err(err).Msg("model classification fallback failed")
		}
	}

	if bestScore > 0 {
		return best, bestScore, SourceRule
	}
	return CategoryGeneral, c.cfg.FloorConfidence, SourceFloor
}

// ClassifyIntent returns the query intent. Like Classify, the output is
// total: unrecognized queries map to IntentGeneralSearch.
func (c *Classifier) ClassifyIntent(ctx context.Context, query string) (Intent, float64) {
	query = strings.TrimSpace(query)
	if query == "" {
		return IntentGeneralSearch, 0
	}

	doc := newDocument(query)
	best := IntentGeneralSearch
	bestScore := 0.0
	for _, in := range intentPriority {
		score := scoreRules(doc, intentRules[in])
		if score > bestScore {
			best = in
			bestScore = score
		}
	}

	if bestScore >= c.cfg.RuleThreshold {
		return best, clamp1(bestScore)
	}

	if c.fallback != nil {
		label, err := c.fallback.ClassifyIntent(ctx, query, IntentNames())
		if err == nil {
			if in, ok := ParseIntent(strings.TrimSpace(label)); ok {
				return in, c.cfg.FallbackConfidence
			}
		} else {
			log.Warn().Err(err).Msg("model intent fallback failed")
		}
	}

	if bestScore > 0 {
		return best, bestScore
	}
	return IntentGeneralSearch, c.cfg.FloorConfidence
}

// document is the pre-tokenized form of one input, shared across all rule
// evaluations so classification stays cheap and deterministic.
type document struct {
	lower  string
	padded string
	words  map[string]struct{}
	stems  []string
}

func newDocument(text string) *document {
	lower := strings.ToLower(text)
	normalized := lower
	for _, p := range []string{"!", ".", "?", ",", ";", "，", "。", "？"} {
		normalized = strings.ReplaceAll(normalized, p, " ")
	}

	words := make(map[string]struct{})
	var stems []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			w := current.String()
			words[w] = struct{}{}
			stems = append(stems, w)
			current.Reset()
		}
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return &document{
		lower:  lower,
		padded: " " + normalized + " ",
		words:  words,
		stems:  stems,
	}
}

func scoreRules(doc *document, rules []rule) float64 {
	score := 0.0
	for _, r := range rules {
		if doc.matches(r.Term) {
			score += r.Weight
		}
	}
	return score
}

func (d *document) matches(term string) bool {
	// Han terms and terms carrying symbols (urls, code markers) match by raw
	// substring; everything else matches on word boundaries.
	if hasHan(term) || hasSymbol(term) {
		return strings.Contains(d.lower, term)
	}

	if strings.Contains(term, " ") {
		return strings.Contains(d.padded, " "+term+" ")
	}

	// Short roots require an exact word hit ("no" must not match "now");
	// longer roots allow stem matching ("configur" matches "configured").
	if len(term) <= 3 {
		_, ok := d.words[term]
		return ok
	}
	for _, w := range d.stems {
		if w == term || strings.HasPrefix(w, term) {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func hasSymbol(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '\'' {
			continue
		}
		return true
	}
	return false
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
