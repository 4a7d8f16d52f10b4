package model

import (
	"fmt"

	"github.com/soundprediction/piqa/pkg/boundary"
)

// Metric selects how context and question vectors are compared.
type Metric string

const (
	// MetricIP scores by inner product.
	MetricIP Metric = "ip"
	// MetricCosine normalises every boundary vector before the inner product.
	MetricCosine Metric = "cosine"
	// MetricL2 scores by negative half squared distance.
	MetricL2 Metric = "l2"
)

// Config holds the model construction options.
type Config struct {
	HiddenSize       int                 `mapstructure:"hidden_size" yaml:"hidden_size"`
	EmbedSize        int                 `mapstructure:"embed_size" yaml:"embed_size"`
	Dropout          float64             `mapstructure:"dropout" yaml:"dropout"`
	NumHeads         int                 `mapstructure:"num_heads" yaml:"num_heads"`
	NumLayers        int                 `mapstructure:"num_layers" yaml:"num_layers"`
	Identity         bool                `mapstructure:"identity" yaml:"identity"`
	MaxAnsLen        int                 `mapstructure:"max_ans_len" yaml:"max_ans_len"`
	Sparse           bool                `mapstructure:"sparse" yaml:"sparse"`
	SparseActivation boundary.Activation `mapstructure:"sparse_activation" yaml:"sparse_activation"`
	Dense            bool                `mapstructure:"dense" yaml:"dense"`
	MaxPool          bool                `mapstructure:"max_pool" yaml:"max_pool"`
	Metric           Metric              `mapstructure:"metric" yaml:"metric"`

	Dual     bool    `mapstructure:"dual" yaml:"dual"`
	DualInit float64 `mapstructure:"dual_init" yaml:"dual_init"`
	DualHL   float64 `mapstructure:"dual_hl" yaml:"dual_hl"`

	PhraseFilter bool    `mapstructure:"phrase_filter" yaml:"phrase_filter"`
	FilterTh     float64 `mapstructure:"filter_th" yaml:"filter_th"`
	FilterInit   float64 `mapstructure:"filter_init" yaml:"filter_init"`

	Seed    int64 `mapstructure:"seed" yaml:"seed"`
	Workers int   `mapstructure:"workers" yaml:"workers"`
}

// DefaultConfig returns the options used for SQuAD training runs.
func DefaultConfig() Config {
	return Config{
		HiddenSize:       128,
		EmbedSize:        300,
		Dropout:          0.2,
		NumHeads:         1,
		NumLayers:        1,
		MaxAnsLen:        7,
		SparseActivation: boundary.ReLU,
		Dense:            true,
		Metric:           MetricIP,
		DualInit:         1.0,
		DualHL:           1000,
		FilterInit:       1.0,
		Seed:             1,
	}
}

// Validate checks the options before any weights are built.
func (c Config) Validate() error {
	switch c.Metric {
	case MetricIP, MetricCosine, MetricL2:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMetric, c.Metric)
	}
	if c.HiddenSize <= 0 || c.EmbedSize <= 0 || c.NumHeads <= 0 {
		return fmt.Errorf("%w: hidden_size=%d embed_size=%d num_heads=%d", ErrInvalidConfig, c.HiddenSize, c.EmbedSize, c.NumHeads)
	}
	if c.MaxAnsLen <= 0 {
		return fmt.Errorf("%w: max_ans_len must be positive, got %d", ErrInvalidConfig, c.MaxAnsLen)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrInvalidConfig, c.Dropout)
	}
	if !c.Dense && !c.Sparse {
		return fmt.Errorf("%w: at least one of dense and sparse must be enabled", ErrInvalidConfig)
	}
	if c.Sparse {
		if _, err := c.SparseActivation.Func(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Dual && c.DualHL <= 0 {
		return fmt.Errorf("%w: dual_hl must be positive, got %v", ErrInvalidConfig, c.DualHL)
	}
	if c.PhraseFilter && (c.FilterTh < 0 || c.FilterTh > 1) {
		return fmt.Errorf("%w: filter_th must be in [0, 1], got %v", ErrInvalidConfig, c.FilterTh)
	}
	return nil
}

// DenseSize is the width of one boundary vector.
func (c Config) DenseSize() int {
	return boundary.DenseSize(c.HiddenSize, c.NumHeads)
}

func (c Config) boundaryOptions() boundary.Options {
	return boundary.Options{
		InputSize:        c.EmbedSize,
		HiddenSize:       c.HiddenSize,
		Dropout:          c.Dropout,
		NumHeads:         c.NumHeads,
		Identity:         c.Identity,
		NumLayers:        c.NumLayers,
		Normalize:        c.Metric == MetricCosine,
		Sparse:           c.Sparse,
		SparseActivation: c.SparseActivation,
	}
}
