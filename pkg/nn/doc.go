// Package nn provides the small set of neural network building blocks the
// phrase encoders are assembled from.
//
// Sequences are gonum dense matrices of shape length x dim. Every forward
// method takes an explicit Mode so that train and inference behaviour are
// an input of the call rather than state carried by the module:
//
//	lstm := nn.NewBiLSTM(inputDim, hidden, 1, rng)
//	out := lstm.Forward(x) // length x 2*hidden
//
// Parameters are registered by dotted name through Params so that
// checkpoints can address them:
//
//	params := nn.Params{}
//	lstm.Register("context_start.lstm", params)
package nn
