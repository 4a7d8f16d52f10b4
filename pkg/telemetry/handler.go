// Package telemetry persists warning and error log records to Parquet.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/piqa/pkg/types"
)

// DefaultBatchSize is the number of records buffered before a flush.
const DefaultBatchSize = 100

// LogRecord represents a single log entry for Parquet storage
type LogRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	Level         string    `parquet:"level"`
	Message       string    `parquet:"message"`
	Command       string    `parquet:"command"`
	UserID        string    `parquet:"user_id"`
	SessionID     string    `parquet:"session_id"`
	RequestSource string    `parquet:"request_source"`
	SourceFile    string    `parquet:"source_file"`
	LineNumber    int       `parquet:"line_number"`
	Attributes    string    `parquet:"attributes"` // JSON string
}

// sink is the buffer shared by a handler and its WithAttrs/WithGroup
// children.
type sink struct {
	mu        sync.Mutex
	outputDir string
	command   string
	batchSize int
	buffer    []LogRecord
	files     []string
}

// ParquetHandler is a slog.Handler that forwards every record to next and
// keeps records at or above MinLevel for Parquet output.
type ParquetHandler struct {
	next     slog.Handler
	minLevel slog.Level
	attrs    []slog.Attr
	sink     *sink
}

// Options configure a ParquetHandler.
type Options struct {
	// Command is stored with every record, e.g. "merge" or "serve".
	Command   string
	MinLevel  slog.Level
	BatchSize int
}

// NewParquetHandler creates a handler writing under outputDir. The zero
// Options keep error records in batches of DefaultBatchSize.
func NewParquetHandler(next slog.Handler, outputDir string, opts Options) (*ParquetHandler, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MinLevel == 0 {
		opts.MinLevel = slog.LevelError
	}
	return &ParquetHandler{
		next:     next,
		minLevel: opts.MinLevel,
		sink: &sink{
			outputDir: outputDir,
			command:   opts.Command,
			batchSize: opts.BatchSize,
			buffer:    make([]LogRecord, 0, opts.BatchSize),
		},
	}, nil
}

// Enabled implements slog.Handler
func (h *ParquetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ParquetHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < h.minLevel {
		return nil
	}

	var userID, sessionID, requestSource string
	if v, ok := ctx.Value(types.ContextKeyUserID).(string); ok {
		userID = v
	}
	if v, ok := ctx.Value(types.ContextKeySessionID).(string); ok {
		sessionID = v
	}
	if v, ok := ctx.Value(types.ContextKeyRequestSource).(string); ok {
		requestSource = v
	}

	attrs := make(map[string]interface{})
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		attrsJSON = []byte(fmt.Sprintf("%q", fmt.Sprint(attrs)))
	}

	var sourceFile string
	var line int
	if r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		sourceFile, line = f.File, f.Line
	}

	record := LogRecord{
		ID:            uuid.New().String(),
		Timestamp:     r.Time.UTC(),
		Level:         r.Level.String(),
		Message:       r.Message,
		Command:       h.sink.command,
		UserID:        userID,
		SessionID:     sessionID,
		RequestSource: requestSource,
		SourceFile:    sourceFile,
		LineNumber:    line,
		Attributes:    string(attrsJSON),
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.buffer = append(h.sink.buffer, record)
	if len(h.sink.buffer) >= h.sink.batchSize {
		return h.sink.flush()
	}
	return nil
}

// Flush writes buffered records.
func (h *ParquetHandler) Flush() error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.flush()
}

// Close flushes buffered records. The handler keeps forwarding afterwards.
func (h *ParquetHandler) Close() error {
	return h.Flush()
}

// Files lists the Parquet files written so far.
func (h *ParquetHandler) Files() []string {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]string(nil), h.sink.files...)
}

// flush writes the buffer to a new file. Caller must hold the lock.
func (s *sink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	now := time.Now()
	filename := fmt.Sprintf("execution_errors_%s_%d.parquet", now.Format("20060102_150405"), now.UnixNano())
	path := filepath.Join(s.outputDir, filename)
	if err := parquet.WriteFile(path, s.buffer); err != nil {
		return fmt.Errorf("failed to write telemetry parquet file: %w", err)
	}
	s.files = append(s.files, path)
	s.buffer = s.buffer[:0]
	return nil
}

// WithAttrs implements slog.Handler
func (h *ParquetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ParquetHandler{
		next:     h.next.WithAttrs(attrs),
		minLevel: h.minLevel,
		attrs:    append(append([]slog.Attr(nil), h.attrs...), attrs...),
		sink:     h.sink,
	}
}

// WithGroup implements slog.Handler
func (h *ParquetHandler) WithGroup(name string) slog.Handler {
	return &ParquetHandler{
		next:     h.next.WithGroup(name),
		minLevel: h.minLevel,
		attrs:    h.attrs,
		sink:     h.sink,
	}
}
