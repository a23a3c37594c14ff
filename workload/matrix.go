// Package workload implements the placeholder CPU-bound work a request
// performs during the PROCESS state: a dense matrix multiply whose
// dimensions come from the topology's per-API exec-time lookup. The
// benchmark only cares that this burns a roughly predictable amount of CPU
// time, not that it is a good matrix-multiply implementation.
package workload

import "github.com/mpi-sws-rg/tracebench/topology"

// Run multiplies an (m x k) by a (k x n) matrix and returns the resulting
// (m x n) matrix, matching the original work.cc placeholder. Callers that
// only care about burning CPU time can discard the result.
func Run(dims topology.MatrixDims) [][]float64 {
	a := fill(dims.M, dims.K)
	b := fill(dims.K, dims.N)
	return multiply(a, b, dims.M, dims.N, dims.K)
}

func fill(rows, cols int) []float64 {
	m := make([]float64, rows*cols)
	for i := range m {
		m[i] = float64(i%97) + 1
	}
	return m
}

func multiply(a, b []float64, m, n, k int) [][]float64 {
	out := make([][]float64, m)
	for i := 0; i < m; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			var sum float64
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[p*n+j]
			}
			out[i][j] = sum
		}
	}
	return out
}
