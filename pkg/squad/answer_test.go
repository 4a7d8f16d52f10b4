package squad

import (
	"strings"
	"testing"

	"github.com/soundprediction/piqa/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestAnswerSpan(t *testing.T) {
	tests := []struct {
		name    string
		context string
		answer  Answer
		want    types.Span
		ok      bool
	}{
		{"first token", "Denver won the game.", Answer{Text: "Denver", AnswerStart: 0}, types.Span{Start: 0, End: 0}, true},
		{"multi token", "Denver won the game.", Answer{Text: "the game", AnswerStart: 11}, types.Span{Start: 2, End: 3}, true},
		{"rune offsets", "café is open", Answer{Text: "open", AnswerStart: 8}, types.Span{Start: 2, End: 2}, true},
		{"empty answer", "Denver won.", Answer{Text: "", AnswerStart: 0}, types.Span{}, false},
		{"offset past end", "Denver won.", Answer{Text: "won", AnswerStart: 40}, types.Span{}, false},
		{"overruns context", "Denver won", Answer{Text: "won big", AnswerStart: 7}, types.Span{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AnswerSpan(tt.context, tt.answer, strings.Fields)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
