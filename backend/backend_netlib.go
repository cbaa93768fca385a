//go:build netlib

package backend

import "gonum.org/v1/netlib/blas/netlib"

// Linking against a system CBLAS (OpenBLAS, Accelerate) when built with
// `-tags netlib`.
func init() {
	Register("netlib", netlib.Implementation{})
}
