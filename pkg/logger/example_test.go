package logger_test

import (
	"log/slog"

	"github.com/soundprediction/piqa/pkg/logger"
)

func ExampleNewDefaultLogger() {
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Debug("Encoding batch", "size", 32)
	log.Info("Wrote context index", "context_id", "Normans_0") // Green in terminal
	log.Warn("Dataset version mismatch", "got", "2.0")          // Yellow in terminal
	log.Error("Merge aborted", "error", "row count mismatch")   // Red in terminal
}
