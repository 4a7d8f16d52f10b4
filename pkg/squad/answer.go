package squad

import "github.com/soundprediction/piqa/pkg/types"

// AnswerSpan maps a character-offset answer onto token positions of its
// context. AnswerStart counts runes, as in the dataset files. ok is false
// when the answer is empty or falls outside the context.
func AnswerSpan(context string, a Answer, tokenize func(string) []string) (span types.Span, ok bool) {
	runes := []rune(context)
	if a.AnswerStart < 0 || a.AnswerStart > len(runes) {
		return types.Span{}, false
	}
	n := len(tokenize(a.Text))
	if n == 0 {
		return types.Span{}, false
	}
	start := len(tokenize(string(runes[:a.AnswerStart])))
	end := start + n - 1
	if end >= len(tokenize(context)) {
		return types.Span{}, false
	}
	return types.Span{Start: start, End: end}, true
}
