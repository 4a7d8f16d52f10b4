package embedder

import (
	"regexp"
	"strings"
)

const (
	PadToken = "<pad>"
	UnkToken = "<unk>"

	PadID = 0
	UnkID = 1
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)?|[^\s\p{L}\p{N}]`)

// Tokenize lower-cases text and splits it into words and single
// punctuation marks.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Vocab maps words to ids. Id 0 is padding and id 1 is the unknown word.
type Vocab struct {
	words []string
	index map[string]int
}

// NewVocab builds a vocabulary from words, after the two reserved tokens.
// Duplicates keep their first id.
func NewVocab(words []string) *Vocab {
	v := &Vocab{
		words: []string{PadToken, UnkToken},
		index: map[string]int{PadToken: PadID, UnkToken: UnkID},
	}
	for _, w := range words {
		v.Add(w)
	}
	return v
}

// Add appends w if it is new and returns its id.
func (v *Vocab) Add(w string) int {
	if id, ok := v.index[w]; ok {
		return id
	}
	id := len(v.words)
	v.words = append(v.words, w)
	v.index[w] = id
	return id
}

// ID returns the id of w, or UnkID.
func (v *Vocab) ID(w string) int {
	if id, ok := v.index[w]; ok {
		return id
	}
	return UnkID
}

// Word returns the word of id, or UnkToken for ids out of range.
func (v *Vocab) Word(id int) string {
	if id < 0 || id >= len(v.words) {
		return UnkToken
	}
	return v.words[id]
}

func (v *Vocab) Size() int {
	return len(v.words)
}

// Encode tokenizes text and maps every token to its id.
func (v *Vocab) Encode(text string) []int {
	return v.IDs(Tokenize(text))
}

// IDs maps tokens to ids.
func (v *Vocab) IDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = v.ID(t)
	}
	return ids
}
