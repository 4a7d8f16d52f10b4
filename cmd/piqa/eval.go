package piqa

import (
	"github.com/soundprediction/piqa/pkg/embedder"
	"github.com/soundprediction/piqa/pkg/loss"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:   "eval <data>",
	Short: "Report the loss and span accuracy of a checkpoint on a labelled dataset",
	Long: `Run the model forward in evaluation mode over every answerable question
of a SQuAD file and report the mean loss terms together with the share of
questions whose predicted start and end match the first gold answer.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

var (
	evalStep int
	evalOut  string
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().IntVar(&evalStep, "step", 0, "Training step used for the decoder weight schedule")
	evalCmd.Flags().StringVar(&evalOut, "out", "", "Write the report as JSON to this path")
	evalCmd.Flags().IntVar(&embedBatchSize, "batch-size", 32, "Examples evaluated per batch")
	addModelFlags(evalCmd)
}

// EvalReport is the summary written by the eval command.
type EvalReport struct {
	Examples      int     `json:"examples"`
	Unanswerable  int     `json:"unanswerable"`
	Span          float64 `json:"span"`
	Filter        float64 `json:"filter"`
	Decoder       float64 `json:"decoder"`
	Total         float64 `json:"total"`
	StartAccuracy float64 `json:"start_accuracy"`
	EndAccuracy   float64 `json:"end_accuracy"`
	ExactMatch    float64 `json:"exact_match"`
}

// labelledExamples pairs each question with its context and the token
// span of its first answer. Questions whose answer cannot be located are
// counted but left out.
func labelledExamples(ds *squad.Dataset, vocab *embedder.Vocab) ([]model.Example, int) {
	var out []model.Example
	skipped := 0
	for _, a := range ds.Data {
		for i, p := range a.Paragraphs {
			ctxTokens := embedder.Tokenize(p.Context)
			ctxIDs := vocab.IDs(ctxTokens)
			for _, qa := range p.QAs {
				qTokens := embedder.Tokenize(qa.Question)
				if len(qa.Answers) == 0 || len(qTokens) == 0 || len(ctxTokens) == 0 {
					skipped++
					continue
				}
				span, ok := squad.AnswerSpan(p.Context, qa.Answers[0], embedder.Tokenize)
				if !ok {
					skipped++
					continue
				}
				out = append(out, model.Example{
					ID:          qa.ID,
					ContextID:   squad.ContextID(a.Title, i),
					Context:     ctxIDs,
					QuestionID:  qa.ID,
					Question:    vocab.IDs(qTokens),
					Answer:      &span,
					ContextText: ctxTokens,
				})
			}
		}
	}
	return out, skipped
}

func runEval(cmd *cobra.Command, args []string) error {
	s, err := newEncoderSetup(cmd, args[0], "eval")
	if err != nil {
		return err
	}
	defer s.close()

	examples, skipped := labelledExamples(s.ds, s.vocab)
	report := EvalReport{Examples: len(examples), Unanswerable: skipped}
	if len(examples) == 0 {
		s.log.Warn("No answerable questions to evaluate", "skipped", skipped)
		return nil
	}

	l := loss.New(loss.FromModel(s.model.Config()))
	var startHits, endHits, exact int
	for _, batch := range utils.Batch(examples, embedBatchSize) {
		outputs, err := s.model.Forward(cmd.Context(), batch, nn.Eval)
		if err != nil {
			return err
		}
		targets := make([]types.Span, len(batch))
		for i, ex := range batch {
			targets[i] = *ex.Answer
		}
		b, err := l.Compute(outputs, targets, evalStep)
		if err != nil {
			return err
		}
		w := float64(len(batch)) / float64(len(examples))
		report.Span += w * b.Span
		report.Filter += w * b.Filter
		report.Decoder += w * b.Decoder
		report.Total += w * b.Total

		for i, o := range outputs {
			hitStart, hitEnd := o.Start == targets[i].Start, o.End == targets[i].End
			if hitStart {
				startHits++
			}
			if hitEnd {
				endHits++
			}
			if hitStart && hitEnd {
				exact++
			}
		}
	}
	n := float64(len(examples))
	report.StartAccuracy = float64(startHits) / n
	report.EndAccuracy = float64(endHits) / n
	report.ExactMatch = float64(exact) / n

	s.log.Info("Evaluation finished",
		"examples", report.Examples,
		"unanswerable", report.Unanswerable,
		"loss", report.Total,
		"exact_match", report.ExactMatch)
	if evalOut != "" {
		if err := utils.WriteJSON(evalOut, report); err != nil {
			return err
		}
		s.log.Info("Wrote evaluation report", "path", evalOut)
	}
	return nil
}
