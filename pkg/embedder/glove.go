package embedder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var ErrBadGloveLine = errors.New("malformed glove line")

// GloveTable is a fixed vocabulary with one vector per word. The padding
// and unknown rows are zero.
type GloveTable struct {
	Vocab   *Vocab
	Vectors *mat.Dense // Vocab.Size() x dim
}

// LoadGloveFile reads a GloVe text file. See LoadGlove.
func LoadGloveFile(path string, dim, limit int) (*GloveTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open glove file: %w", err)
	}
	defer f.Close()
	return LoadGlove(f, dim, limit)
}

// LoadGlove parses "word v1 ... vdim" lines. Words may contain spaces, so
// the vector is read from the last dim fields. limit > 0 stops after that
// many words.
func LoadGlove(r io.Reader, dim, limit int) (*GloveTable, error) {
	vocab := NewVocab(nil)
	data := make([]float64, 2*dim)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < dim+1 {
			return nil, fmt.Errorf("%w %d: %d fields, want at least %d", ErrBadGloveLine, line, len(fields), dim+1)
		}
		word := strings.Join(fields[:len(fields)-dim], " ")
		if _, seen := vocab.index[word]; seen {
			continue
		}
		row := make([]float64, dim)
		for i, f := range fields[len(fields)-dim:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w %d: %v", ErrBadGloveLine, line, err)
			}
			row[i] = v
		}
		vocab.Add(word)
		data = append(data, row...)
		if limit > 0 && vocab.Size()-2 >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read glove: %w", err)
	}
	return &GloveTable{Vocab: vocab, Vectors: mat.NewDense(vocab.Size(), dim, data)}, nil
}

// Dim returns the vector width.
func (g *GloveTable) Dim() int {
	_, c := g.Vectors.Dims()
	return c
}

// Embed returns the rows of ids. Ids outside the table read as unknown.
func (g *GloveTable) Embed(ctx context.Context, ids []int) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, dim := g.Vectors.Dims()
	out := mat.NewDense(len(ids), dim, nil)
	for i, id := range ids {
		if id < 0 || id >= rows {
			id = UnkID
		}
		out.SetRow(i, g.Vectors.RawRowView(id))
	}
	return out, nil
}

// Weights returns the table itself, shared with the dual decoder.
func (g *GloveTable) Weights() *mat.Dense {
	return g.Vectors
}
