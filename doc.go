/*
Package piqa is a phrase-indexed question answering toolkit.

Every phrase of a document collection is encoded once, independently of
any question, into a dense vector and optionally a sparse lexical vector.
A question is encoded the same way, so answering reduces to a maximum
inner product search over the phrase index.

The packages are organised as follows:

	pkg/nn          tensor building blocks on gonum (LSTM, GRU, Linear)
	pkg/boundary    start/end boundary encoders and sparse self-attention
	pkg/filter      phrase filter scoring candidate spans
	pkg/decoder     weight-tied question decoder for dual training
	pkg/model       the span scorer, GetContext and GetQuestion
	pkg/loss        span, filter and decoder losses
	pkg/index       persisted phrase and question index
	pkg/merge       TF-IDF merge scorer producing predictions
	pkg/server      HTTP question encoding and phrase search
	pkg/checkpoint  saved configurations and weights

The command line lives in cmd/piqa.
*/
package piqa
