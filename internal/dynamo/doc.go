// Package dynamo holds the primitives shared by every layer of the
// elongation simulator: the stage enum, run-wide sentinel errors and the
// data-parallel loop helper used by the force kernels.
package dynamo
