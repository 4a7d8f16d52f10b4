// Package squad reads SQuAD-schema datasets.
package squad

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ExpectedVersion is the dataset version the evaluation tools are written
// for. Other versions load with a warning.
const ExpectedVersion = "1.1"

type Dataset struct {
	Version string    `json:"version"`
	Data    []Article `json:"data"`
}

type Article struct {
	Title      string      `json:"title"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

type Paragraph struct {
	Context string `json:"context"`
	QAs     []QA   `json:"qas"`
}

type QA struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answers  []Answer `json:"answers"`
}

type Answer struct {
	Text        string `json:"text"`
	AnswerStart int    `json:"answer_start"`
}

// Load reads a dataset file.
func Load(path string, logger *slog.Logger) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Read(f, logger)
}

// Read decodes a dataset and warns when its version is not ExpectedVersion.
func Read(r io.Reader, logger *slog.Logger) (*Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if ds.Version != ExpectedVersion {
		logger.Warn("unexpected dataset version", "expected", ExpectedVersion, "got", ds.Version)
	}
	return &ds, nil
}

// ContextID names paragraph idx of the article titled title.
func ContextID(title string, idx int) string {
	return fmt.Sprintf("%s_%d", title, idx)
}

// DocTitle recovers the article title from a context id by dropping the
// trailing paragraph index.
func DocTitle(contextID string) string {
	i := strings.LastIndex(contextID, "_")
	if i < 0 {
		return ""
	}
	return contextID[:i]
}

// ContextQuestions lists the questions asked about one context.
type ContextQuestions struct {
	ContextID   string
	QuestionIDs []string
}

// ContextToQuestions maps every paragraph to its question ids, in dataset
// order.
func ContextToQuestions(ds *Dataset) []ContextQuestions {
	var out []ContextQuestions
	for _, a := range ds.Data {
		for i, p := range a.Paragraphs {
			cq := ContextQuestions{ContextID: ContextID(a.Title, i)}
			for _, qa := range p.QAs {
				cq.QuestionIDs = append(cq.QuestionIDs, qa.ID)
			}
			out = append(out, cq)
		}
	}
	return out
}

// Context is one paragraph with its id.
type Context struct {
	ID   string
	Text string
}

// Contexts returns every paragraph, in dataset order.
func (ds *Dataset) Contexts() []Context {
	var out []Context
	for _, a := range ds.Data {
		for i, p := range a.Paragraphs {
			out = append(out, Context{ID: ContextID(a.Title, i), Text: p.Context})
		}
	}
	return out
}

// Question is one question with the id of its context.
type Question struct {
	ID        string
	ContextID string
	Text      string
}

// Questions returns every question, in dataset order.
func (ds *Dataset) Questions() []Question {
	var out []Question
	for _, a := range ds.Data {
		for i, p := range a.Paragraphs {
			for _, qa := range p.QAs {
				out = append(out, Question{ID: qa.ID, ContextID: ContextID(a.Title, i), Text: qa.Question})
			}
		}
	}
	return out
}

// NumQuestions counts the questions of a mapping.
func NumQuestions(c2q []ContextQuestions) int {
	n := 0
	for _, cq := range c2q {
		n += len(cq.QuestionIDs)
	}
	return n
}
