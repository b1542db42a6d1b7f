// Package distance computes pairwise distance matrices between two sets of row vectors
// for scoring queries against class prototypes.
//
// Euclidean returns the SQUARED Euclidean distance, sum_k (x[i,k] - y[j,k])^2, with no
// square root. Negated, it is used directly as a pre-softmax score; the squared form is
// what the loss gradients are defined against, so callers must not treat the result as a
// true metric distance.
package distance
