// Package dto holds the request and response bodies of the HTTP API.
package dto

import (
	"errors"
	"strings"
)

// MaxQueryLength bounds the query parameter in bytes.
const MaxQueryLength = 4096

// DefaultTopK is the number of phrases returned by a search without k.
const DefaultTopK = 10

// MaxTopK bounds the k parameter of a search.
const MaxTopK = 100

var (
	// ErrEmptyQuery is returned for a missing or blank query.
	ErrEmptyQuery = errors.New("query parameter is required")
	// ErrQueryTooLong is returned for queries above MaxQueryLength.
	ErrQueryTooLong = errors.New("query exceeds maximum length")
	// ErrInvalidTopK is returned for k outside [1, MaxTopK].
	ErrInvalidTopK = errors.New("k must be between 1 and 100")
)

// QueryRequest is bound from the query string.
type QueryRequest struct {
	Query string `form:"query"`
	K     int    `form:"k"`
}

// Validate trims the query and applies the default k.
func (r *QueryRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return ErrEmptyQuery
	}
	if len(r.Query) > MaxQueryLength {
		return ErrQueryTooLong
	}
	if r.K == 0 {
		r.K = DefaultTopK
	}
	if r.K < 0 || r.K > MaxTopK {
		return ErrInvalidTopK
	}
	return nil
}

// PhraseResult is one phrase returned by a search.
type PhraseResult struct {
	ContextID string  `json:"context_id"`
	Text      string  `json:"text"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Score     float64 `json:"score"`
}

// SearchResponse is the body of GET /api/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []PhraseResult `json:"results"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
