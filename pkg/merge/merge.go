package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/utils"
)

// Options control a merge run.
type Options struct {
	TfidfWeight float64
	// Draft stops after the first scored context.
	Draft bool
	// NBest keeps that many candidates per question when above one.
	NBest int
}

// Result is the outcome of a merge run.
type Result struct {
	Predictions map[string]string
	Details     map[string]Prediction
	Contexts    int
	Skipped     int
}

// Run scores every context of c2q in order. Contexts without metadata are
// skipped; any other failure aborts the run.
func Run(ctx context.Context, c2q []squad.ContextQuestions, loader *Loader, opts Options, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scorer := &Scorer{TfidfWeight: opts.TfidfWeight, NBest: opts.NBest}

	logger.Info("Starting merge",
		"contexts", len(c2q),
		"questions", squad.NumQuestions(c2q),
		"tfidf_weight", opts.TfidfWeight,
		"draft", opts.Draft)
	start := time.Now()

	res := &Result{Predictions: map[string]string{}, Details: map[string]Prediction{}}
	for _, cq := range c2q {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bundle, err := loader.Bundle(cq)
		if errors.Is(err, ErrNoMetadata) {
			logger.Debug("Skipping context without metadata", "context_id", cq.ContextID)
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", cq.ContextID, err)
		}
		preds, err := scorer.ScoreContext(bundle)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			res.Predictions[p.QuestionID] = p.Text
			res.Details[p.QuestionID] = p
		}
		res.Contexts++
		if opts.Draft {
			logger.Info("Draft mode, stopping after first context", "context_id", cq.ContextID)
			break
		}
	}

	logger.Info("Merge finished",
		"contexts", res.Contexts,
		"skipped", res.Skipped,
		"predictions", len(res.Predictions),
		"duration", time.Since(start))
	return res, nil
}

// WritePredictions writes the question-id to phrase-text JSON object.
func WritePredictions(path string, predictions map[string]string) error {
	return utils.WriteJSON(path, predictions)
}
