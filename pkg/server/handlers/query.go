package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/piqa/pkg/server/dto"
)

// QueryHandler serves question encoding and phrase search.
type QueryHandler struct {
	encoder  QueryEncoder
	searcher PhraseSearcher
	logger   *slog.Logger
}

// NewQueryHandler creates a query handler. searcher may be nil, which
// disables search.
func NewQueryHandler(encoder QueryEncoder, searcher PhraseSearcher, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{encoder: encoder, searcher: searcher, logger: logger}
}

func (h *QueryHandler) bind(c *gin.Context) (*dto.QueryRequest, bool) {
	var req dto.QueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: http.StatusBadRequest})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: http.StatusBadRequest})
		return nil, false
	}
	if h.encoder == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "model not loaded", Code: http.StatusServiceUnavailable})
		return nil, false
	}
	return &req, true
}

func (h *QueryHandler) encodeFailed(c *gin.Context, err error) {
	h.logger.ErrorContext(c.Request.Context(), "Failed to encode query", "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, c.Request.Context().Err()) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.ErrorResponse{Error: "failed to encode query", Message: err.Error(), Code: status})
}

func (h *QueryHandler) encode(c *gin.Context, query string) ([]float64, bool) {
	vec, err := h.encoder.EncodeQuery(c.Request.Context(), query)
	if err != nil {
		h.encodeFailed(c, err)
		return nil, false
	}
	return vec, true
}

// search scores with the sparse question vector when both the encoder and
// the searcher support it, and with the dense vector otherwise.
func (h *QueryHandler) search(c *gin.Context, query string, k int) ([]dto.PhraseResult, bool) {
	qe, okEnc := h.encoder.(QuestionEncoder)
	es, okSearch := h.searcher.(EntrySearcher)

	var results []dto.PhraseResult
	var err error
	if okEnc && okSearch {
		entry, encErr := qe.EncodeQuestion(c.Request.Context(), query)
		if encErr != nil {
			h.encodeFailed(c, encErr)
			return nil, false
		}
		results, err = es.SearchEntry(entry, k)
	} else {
		vec, ok := h.encode(c, query)
		if !ok {
			return nil, false
		}
		results, err = h.searcher.Search(vec, k)
	}
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "Phrase search failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "search failed", Message: err.Error(), Code: http.StatusInternalServerError})
		return nil, false
	}
	return results, true
}

// Encode handles GET /api?query=... and returns the question vector as a
// JSON array.
func (h *QueryHandler) Encode(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	vec, ok := h.encode(c, req.Query)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, vec)
}

// Search handles GET /api/search?query=...&k=... over the loaded phrases.
func (h *QueryHandler) Search(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no phrase index loaded", Code: http.StatusNotFound})
		return
	}
	req, ok := h.bind(c)
	if !ok {
		return
	}
	results, ok := h.search(c, req.Query, req.K)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.SearchResponse{Query: req.Query, Results: results})
}
