package distance

import (
	"fmt"

	"go-protonet/tensor"
)

// Euclidean returns the [n, m] matrix of squared Euclidean distances between the rows of
// x [n, d] and y [m, d]. The kernel runs on x's device; y must be on the same device.
func Euclidean(x, y *tensor.Tensor) (*tensor.Tensor, error) {
	xs, ys := x.Shape(), y.Shape()
	if len(xs) != 2 || len(ys) != 2 {
		return nil, &tensor.ShapeMismatchError{Op: "euclidean_dist", Got: ys, Want: xs, Detail: "2-D operands required"}
	}
	n, d := xs[0], xs[1]
	m := ys[0]
	if ys[1] != d {
		return nil, &tensor.ShapeMismatchError{
			Op:     "euclidean_dist",
			Got:    ys,
			Want:   []int{m, d},
			Detail: fmt.Sprintf("feature dimension %d != %d", ys[1], d),
		}
	}
	dev := x.Device()
	if !tensor.SameDevice(dev, y.Device()) {
		return nil, fmt.Errorf("euclidean_dist: %w: %s and %s", tensor.ErrDeviceMismatch, dev.Name(), y.Device().Name())
	}

	xd, yd := x.Data(), y.Data()
	outData := make([]float64, n*m)
	dev.SquaredEuclidean(outData, xd, yd, n, m, d)

	out, err := tensor.NewTensor([]int{n, m}, outData)
	if err != nil {
		return nil, fmt.Errorf("euclidean_dist: %w", err)
	}
	out = out.To(dev)

	if x.RequiresGrad || y.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*tensor.Tensor{x, y}
		out.Operation = "euclidean_dist"
		out.BackwardFunc = func(grad *tensor.Tensor) {
			g := grad.Data()
			var gx, gy []float64
			if x.RequiresGrad {
				gx = make([]float64, n*d)
			}
			if y.RequiresGrad {
				gy = make([]float64, m*d)
			}
			// dD[i,j]/dx[i,k] = 2(x[i,k]-y[j,k]) = -dD[i,j]/dy[j,k]
			for i := 0; i < n; i++ {
				xi := xd[i*d : (i+1)*d]
				for j := 0; j < m; j++ {
					c := 2 * g[i*m+j]
					if c == 0 {
						continue
					}
					yj := yd[j*d : (j+1)*d]
					for k := 0; k < d; k++ {
						diff := c * (xi[k] - yj[k])
						if gx != nil {
							gx[i*d+k] += diff
						}
						if gy != nil {
							gy[j*d+k] -= diff
						}
					}
				}
			}
			if gx != nil {
				xGrad, _ := tensor.NewTensor(xs, gx)
				x.Backward(xGrad)
			}
			if gy != nil {
				yGrad, _ := tensor.NewTensor(ys, gy)
				y.Backward(yGrad)
			}
		}
	}
	return out, nil
}
