package piqa

import (
	"fmt"
	"log/slog"

	"github.com/soundprediction/piqa/pkg/config"
	"github.com/soundprediction/piqa/pkg/embedder"
	"github.com/soundprediction/piqa/pkg/index"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/utils"
	"github.com/spf13/cobra"
)

var embedContextCmd = &cobra.Command{
	Use:   "embed-context <data> <context_emb_dir>",
	Short: "Encode every phrase of every context into the index",
	Long: `Run the phrase encoder over every paragraph of a SQuAD file and write
one archive, one phrase text list and one metadata file per context.`,
	Args: cobra.ExactArgs(2),
	RunE: runEmbedContext,
}

var embedQuestionCmd = &cobra.Command{
	Use:   "embed-question <data> <question_emb_dir>",
	Short: "Encode every question of a dataset",
	Long:  `Run the question encoder over every question of a SQuAD file and write one archive per question.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runEmbedQuestion,
}

var (
	embedBatchSize  int
	embedParquetDir string
)

func init() {
	for _, cmd := range []*cobra.Command{embedContextCmd, embedQuestionCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().IntVar(&embedBatchSize, "batch-size", 32, "Examples encoded per batch")
		cmd.Flags().StringVar(&embedParquetDir, "parquet-dir", "", "Also write the index as Parquet under this directory")
		addModelFlags(cmd)
	}
}

// encoderSetup loads everything the embed commands share.
type encoderSetup struct {
	log   *slog.Logger
	ds    *squad.Dataset
	vocab *embedder.Vocab
	model *model.Model
	close func()
}

func newEncoderSetup(cmd *cobra.Command, dataPath, command string) (*encoderSetup, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log, flush := newLogger(cfg, command)
	ds, err := squad.Load(dataPath, log)
	if err != nil {
		flush()
		return nil, err
	}
	emb, vocab, closeEmb, err := newEmbedder(cfg, ds, log)
	if err != nil {
		flush()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	m, err := loadModel(cmd.Context(), cfg, emb, log)
	if err != nil {
		closeEmb()
		flush()
		return nil, err
	}
	return &encoderSetup{
		log:   log,
		ds:    ds,
		vocab: vocab,
		model: m,
		close: func() { closeEmb(); flush() },
	}, nil
}

func runEmbedContext(cmd *cobra.Command, args []string) error {
	s, err := newEncoderSetup(cmd, args[0], "embed-context")
	if err != nil {
		return err
	}
	defer s.close()

	w, err := index.NewWriter(index.Options{ContextDir: args[1], ParquetDir: embedParquetDir}, s.log)
	if err != nil {
		return err
	}
	defer w.Close()

	var examples []model.Example
	tokens := map[string][]string{}
	for _, c := range s.ds.Contexts() {
		toks := embedder.Tokenize(c.Text)
		if len(toks) == 0 {
			s.log.Warn("Skipping empty context", "context_id", c.ID)
			continue
		}
		tokens[c.ID] = toks
		examples = append(examples, model.Example{ContextID: c.ID, Context: s.vocab.IDs(toks), ContextText: toks})
	}

	phrases := 0
	for _, batch := range utils.Batch(examples, embedBatchSize) {
		entries, err := s.model.GetContext(cmd.Context(), batch)
		if err != nil {
			return err
		}
		for i := range entries {
			entry := &entries[i]
			if err := w.WriteContext(cmd.Context(), entry, index.PhraseTexts(tokens[entry.ContextID], entry.Spans)); err != nil {
				return err
			}
			phrases += len(entry.Spans)
		}
	}
	s.log.Info("Wrote context index", "dir", args[1], "contexts", len(examples), "phrases", phrases, "run_id", w.RunID())
	return nil
}

func runEmbedQuestion(cmd *cobra.Command, args []string) error {
	s, err := newEncoderSetup(cmd, args[0], "embed-question")
	if err != nil {
		return err
	}
	defer s.close()

	w, err := index.NewWriter(index.Options{QuestionDir: args[1], ParquetDir: embedParquetDir}, s.log)
	if err != nil {
		return err
	}
	defer w.Close()

	var examples []model.Example
	for _, q := range s.ds.Questions() {
		toks := embedder.Tokenize(q.Text)
		if len(toks) == 0 {
			s.log.Warn("Skipping empty question", "question_id", q.ID)
			continue
		}
		examples = append(examples, model.Example{QuestionID: q.ID, ContextID: q.ContextID, Question: s.vocab.IDs(toks)})
	}

	for _, batch := range utils.Batch(examples, embedBatchSize) {
		entries, err := s.model.GetQuestion(cmd.Context(), batch)
		if err != nil {
			return err
		}
		if err := w.WriteQuestions(cmd.Context(), entries); err != nil {
			return err
		}
	}
	s.log.Info("Wrote question index", "dir", args[1], "questions", len(examples), "run_id", w.RunID())
	return nil
}
