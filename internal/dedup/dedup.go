package dedup

import (
	"context"

	"ideahub/internal/domain"
	"ideahub/internal/similarity"
)

// Outcome classifies a submission relative to existing ideas.
type Outcome string

const (
	Unique      Outcome = "unique"
	Improvement Outcome = "improvement"
	Duplicate   Outcome = "duplicate"
)

type Result struct {
	Outcome  Outcome
	ParentID string
	Score    float64
	// Skipped is true when no embedding backend was available and the
	// submission passed through unclassified.
	Skipped bool
}

type Thresholds struct {
	Duplicate     float64
	Improvement   float64
	Floor         float64
	MaxCandidates int
}

// Detector gates entry into the review pipeline. A nil Embedder disables
// detection entirely; every submission is then reported unique.
type Detector struct {
	Index      similarity.Index
	Embedder   similarity.Embedder
	Thresholds Thresholds
}

// Classify embeds the idea text, stores the vector, and ranks it against
// existing idea embeddings. The top match decides the outcome: duplicate at or
// above the duplicate threshold, improvement at or above the improvement
// threshold, unique otherwise. Any embedding failure degrades to unique.
func (d Detector) Classify(ctx context.Context, ideaID, text string) (Result, error) {
	if d.Embedder == nil {
		return Result{Outcome: Unique, Skipped: true}, nil
	}
	vec, err := d.Embedder.Embed(ctx, text)
	if err != nil {
		return Result{Outcome: Unique, Skipped: true}, err
	}
	entity := domain.EntityRef{Kind: domain.KindIdea, ID: ideaID}
	if err := d.Index.Put(ctx, entity, vec, d.Embedder.Model(), text); err != nil {
		return Result{Outcome: Unique, Skipped: true}, err
	}
	matches, err := d.Index.Search(ctx, domain.KindIdea, vec, d.Thresholds.Floor, d.Thresholds.MaxCandidates, ideaID)
	if err != nil {
		return Result{Outcome: Unique, Skipped: true}, err
	}
	if len(matches) == 0 {
		return Result{Outcome: Unique}, nil
	}
	top := matches[0]
	switch {
	case top.Score >= d.Thresholds.Duplicate:
		return Result{Outcome: Duplicate, ParentID: top.EntityID, Score: top.Score}, nil
	case top.Score >= d.Thresholds.Improvement:
		return Result{Outcome: Improvement, ParentID: top.EntityID, Score: top.Score}, nil
	}
	return Result{Outcome: Unique}, nil
}
