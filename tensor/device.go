package tensor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Device is the placement and kernel strategy attached to a tensor. Ops run the kernels
// of their first operand's device; nothing is selected through global state.
type Device interface {
	Name() string
	// SquaredEuclidean fills dst[i*m+j] with sum_k (x[i*d+k] - y[j*d+k])^2.
	SquaredEuclidean(dst, x, y []float64, n, m, d int)
}

// SameDevice reports whether a and b name the same device.
func SameDevice(a, b Device) bool {
	return a.Name() == b.Name()
}

var (
	// CPU is the default device: plain Go loops, row-parallel for large inputs.
	CPU = &CPUDevice{}
	// BLAS computes distances through gonum's matrix multiply.
	BLAS = &BLASDevice{}
)

// parallelThreshold is the n*m*d work size below which CPU kernels stay on one goroutine.
const parallelThreshold = 1 << 15

// CPUDevice evaluates the broadcast form of each kernel directly.
type CPUDevice struct {
	// Workers bounds the goroutine fan-out; 0 means runtime.NumCPU().
	Workers int
}

func (c *CPUDevice) Name() string { return "cpu" }

func (c *CPUDevice) SquaredEuclidean(dst, x, y []float64, n, m, d int) {
	rows := func(start, end int) {
		for i := start; i < end; i++ {
			xi := x[i*d : (i+1)*d]
			for j := 0; j < m; j++ {
				yj := y[j*d : (j+1)*d]
				var sum float64
				for k, v := range xi {
					diff := v - yj[k]
					sum += diff * diff
				}
				dst[i*m+j] = sum
			}
		}
	}

	if n*m*d < parallelThreshold {
		rows(0, n)
		return
	}
	parallelFor(n, c.Workers, rows)
}

// BLASDevice expands ||x-y||² as ||x||² + ||y||² - 2·x·y so the cross term is a single
// matrix multiply instead of an [n, m, d] broadcast.
type BLASDevice struct{}

func (BLASDevice) Name() string { return "blas" }

func (BLASDevice) SquaredEuclidean(dst, x, y []float64, n, m, d int) {
	xm := mat.NewDense(n, d, x)
	ym := mat.NewDense(m, d, y)
	gram := mat.NewDense(n, m, dst)
	gram.Mul(xm, ym.T())

	xx := make([]float64, n)
	for i := range xx {
		row := x[i*d : (i+1)*d]
		xx[i] = floats.Dot(row, row)
	}
	yy := make([]float64, m)
	for j := range yy {
		row := y[j*d : (j+1)*d]
		yy[j] = floats.Dot(row, row)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := xx[i] + yy[j] - 2*dst[i*m+j]
			// cancellation can leave tiny negatives
			if v < 0 {
				v = 0
			}
			dst[i*m+j] = v
		}
	}
}
