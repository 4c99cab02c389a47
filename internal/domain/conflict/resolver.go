package conflict

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/domain/memory"
)

// Action is the outcome of resolving a new item against its partition.
type Action string

const (
	ActionInsertNew Action = "insert_new"
	ActionMergeInto Action = "merge_into"
	ActionSupersede Action = "supersede"
)

// Decision pairs an action with the existing item it applies to.
type Decision struct {
	Action Action
	Target *memory.Item
	Reason string
}

// Config holds the resolver thresholds. They are configuration, not
// constants, so behavior is tunable without code changes.
type Config struct {
	// OverlapThreshold is the minimum token overlap (Jaccard) for two items
	// to be considered statements about the same fact.
	OverlapThreshold float64
	// AmbiguousThreshold is the overlap floor below OverlapThreshold where a
	// detected contradiction is too uncertain to act on; such items insert
	// as new rather than risk silent data loss.
	AmbiguousThreshold float64
	// CandidateSimilarity is the embedding similarity floor used when
	// gathering candidates from the store.
	CandidateSimilarity float32
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold:    0.6,
		AmbiguousThreshold:  0.4,
		CandidateSimilarity: 0.8,
	}
}

// Resolver decides whether a new item duplicates, contradicts or extends the
// existing items of its (user, category) partition.
type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) *Resolver {
	if cfg.OverlapThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Resolver{cfg: cfg}
}

// Config exposes the thresholds, for callers gathering candidates.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve inspects candidates (same partition, embedding similarity above the
// merge floor, most similar first) and picks the action for newItem.
func (r *Resolver) Resolve(newItem *memory.Item, candidates []memory.Item) Decision {
	newSig := newSignature(newItem.Content)

	for i := range candidates {
		cand := &candidates[i]
		candSig := newSignature(cand.Content)

		overlap := newSig.overlap(candSig)
		subjectOverlap := newSig.subjectOverlap(candSig)
		contradiction, why := newSig.contradicts(candSig)

		switch {
		case contradiction && subjectOverlap >= r.cfg.OverlapThreshold:
			log.Debug().
				Str("new_id", newItem.ID).
				Str("existing_id", cand.ID).
				Str("cause", why).
				Msg("conflict: superseding contradicted item")
			return Decision{Action: ActionSupersede, Target: cand, Reason: why}

		case !contradiction && overlap >= r.cfg.OverlapThreshold:
			return Decision{Action: ActionMergeInto, Target: cand, Reason: "duplicate content"}

		case contradiction && subjectOverlap >= r.cfg.AmbiguousThreshold:
			// Lexically close but not confidently the same fact: favor
			// recall over silent loss.
			log.Debug().
				Str("new_id", newItem.ID).
				Str("existing_id", cand.ID).
				Str("cause", why).
				Msg("conflict ambiguous, inserting as new item")
			return Decision{Action: ActionInsertNew, Reason: "ambiguous: " + why}
		}
	}

	return Decision{Action: ActionInsertNew, Reason: "no overlapping candidate"}
}

// Merge folds newItem into existing. The merged content is a textual superset
// of both sides and the metadata is their union, existing keys winning.
func Merge(existing, newItem *memory.Item) *memory.Item {
	if !strings.Contains(strings.ToLower(existing.Content), strings.ToLower(strings.TrimSpace(newItem.Content))) {
		existing.Content = existing.Content + "\n" + newItem.Content
	}

	if existing.Metadata == nil && len(newItem.Metadata) > 0 {
		existing.Metadata = make(map[string]string, len(newItem.Metadata))
	}
	for k, v := range newItem.Metadata {
		if _, ok := existing.Metadata[k]; !ok {
			existing.Metadata[k] = v
		}
	}
	return existing
}

// Supersede marks newItem as the replacement of old, recording the superseded
// id for audit.
func Supersede(newItem, old *memory.Item) *memory.Item {
	if newItem.Metadata == nil {
		newItem.Metadata = make(map[string]string, 1)
	}
	newItem.Metadata[memory.MetadataSupersedes] = old.ID
	return newItem
}
