package piqa

import (
	"fmt"
	"strings"

	"github.com/soundprediction/piqa/pkg/config"
	"github.com/soundprediction/piqa/pkg/merge"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <data> <context_emb_dir> <doc_tfidf_dir> <question_emb_dir> <que_tfidf_dir> <pred_path>",
	Short: "Score every question against its context's phrases and write predictions",
	Long: `Merge the phrase index with TF-IDF document vectors.

For each context of the dataset, every phrase vector is prefixed with the
weighted TF-IDF vector of its source document, every question vector with
its own weighted TF-IDF vector, and each question takes the phrase with
the highest inner product. The result is a JSON object mapping question
ids to phrase texts.

Contexts without a metadata file are skipped; any other missing or
malformed input aborts the run.`,
	Args: cobra.ExactArgs(6),
	RunE: runMerge,
}

var mergeNBest int

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().Float64("tfidf-weight", merge.DefaultTfidfWeight, "Weight of the TF-IDF block")
	mergeCmd.Flags().Bool("draft", false, "Stop after the first context")
	mergeCmd.Flags().IntVar(&mergeNBest, "nbest", 0, "Also write the n best phrases per question next to the predictions")

	viper.BindPFlag("merge.tfidf_weight", mergeCmd.Flags().Lookup("tfidf-weight"))
	viper.BindPFlag("merge.draft", mergeCmd.Flags().Lookup("draft"))
}

func runMerge(cmd *cobra.Command, args []string) error {
	dataPath, contextDir, docTfidfDir, questionDir, questionTfidfDir, predPath := args[0], args[1], args[2], args[3], args[4], args[5]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, flush := newLogger(cfg, "merge")
	defer flush()

	ds, err := squad.Load(dataPath, log)
	if err != nil {
		return err
	}
	loader, err := merge.NewLoader(contextDir, docTfidfDir, questionDir, questionTfidfDir, log)
	if err != nil {
		return err
	}

	res, err := merge.Run(cmd.Context(), squad.ContextToQuestions(ds), loader, merge.Options{
		TfidfWeight: cfg.Merge.TfidfWeight,
		Draft:       cfg.Merge.Draft,
		NBest:       mergeNBest,
	}, log)
	if err != nil {
		log.Error("Merge failed", "error", err)
		return err
	}

	if err := merge.WritePredictions(predPath, res.Predictions); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	log.Info("Wrote predictions", "path", predPath, "count", len(res.Predictions))

	if mergeNBest > 1 {
		nbestPath := strings.TrimSuffix(predPath, ".json") + ".nbest.json"
		if err := utils.WriteJSON(nbestPath, res.Details); err != nil {
			return fmt.Errorf("write n-best: %w", err)
		}
		log.Info("Wrote n-best candidates", "path", nbestPath)
	}
	return nil
}
