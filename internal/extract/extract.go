// Package extract turns free text into structured memory features. The LLM
// path is preferred; a heuristic path covers model outages so storing a
// memory never fails on extraction.
package extract

import (
	"context"
	"time"

	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/types"
)

// Result is what extraction produced and how
type Result struct {
	Features      types.Features
	Status        types.ExtractionStatus
	DroppedFields int // unknown fields the model emitted that were discarded
}

// Extractor runs feature extraction with graceful degradation
type Extractor struct {
	llm     provider.LLMProvider
	gate    *provider.Gate
	timeout time.Duration
}

// New creates an extractor. A nil llm means heuristics only.
func New(llm provider.LLMProvider, gate *provider.Gate, timeout time.Duration) *Extractor {
	return &Extractor{llm: llm, gate: gate, timeout: timeout}
}

// Extract derives features from text. It never returns an error: the
// heuristic path absorbs every failure, and the status records which path
// produced the result.
func (e *Extractor) Extract(ctx context.Context, text string, now time.Time) Result {
	if e.llm != nil {
		if features, dropped, ok := e.tryLLM(ctx, text, now); ok {
			status := types.ExtractionOK
			if features.IsEmpty() {
				status = types.ExtractionEmpty
			}
			return Result{Features: features, Status: status, DroppedFields: dropped}
		}
	}

	features := heuristicExtract(text, now)
	status := types.ExtractionFallback
	if features.IsEmpty() {
		status = types.ExtractionEmpty
	}
	return Result{Features: features, Status: status}
}

// tryLLM runs the model path under the concurrency gate and timeout.
// ok is false whenever the fallback should take over.
func (e *Extractor) tryLLM(ctx context.Context, text string, now time.Time) (types.Features, int, bool) {
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		logging.Info("extract", "llm gate unavailable, falling back: %v", err)
		return types.Features{}, 0, false
	}
	defer release()

	llmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	features, dropped, err := llmExtract(llmCtx, e.llm, text, now)
	if err != nil {
		logging.Info("extract", "llm extraction failed, falling back: %v", err)
		return types.Features{}, 0, false
	}
	if dropped > 0 {
		logging.Debug("extract", "dropped %d unknown fields", dropped)
	}
	return features, dropped, true
}
