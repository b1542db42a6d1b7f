package nn

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"go-protonet/tensor"
)

// CrossEntropyLoss is the mean negative log-softmax of the target class over a batch of
// logits [batch_size, num_classes]. targets holds one 0-indexed class per row.
func CrossEntropyLoss(logits *tensor.Tensor, targets []int) (*tensor.Tensor, error) {
	shape := logits.GetShape()
	if len(shape) != 2 {
		return nil, &tensor.ShapeMismatchError{Op: "cross_entropy_loss", Got: shape, Detail: "logits must be [batch_size, num_classes]"}
	}
	batchSize, numClasses := shape[0], shape[1]
	if len(targets) != batchSize {
		return nil, &tensor.ShapeMismatchError{
			Op:     "cross_entropy_loss",
			Got:    []int{len(targets)},
			Want:   []int{batchSize},
			Detail: "one target per logits row",
		}
	}

	logitsData := logits.GetData()
	probsData := make([]float64, len(logitsData))
	lossSum := 0.0

	for i := 0; i < batchSize; i++ {
		targetIndex := targets[i]
		if targetIndex < 0 || targetIndex >= numClasses {
			return nil, fmt.Errorf("cross_entropy_loss: target index %d out of bounds for batch item %d with %d classes", targetIndex, i, numClasses)
		}

		itemLogits := logitsData[i*numClasses : (i+1)*numClasses]
		itemProbs := probsData[i*numClasses : (i+1)*numClasses]

		maxv := itemLogits[0]
		for _, v := range itemLogits {
			maxv = math.Max(maxv, v)
		}
		var sumExp float64
		for k, v := range itemLogits {
			itemProbs[k] = math.Exp(v - maxv)
			sumExp += itemProbs[k]
		}
		for k := range itemProbs {
			itemProbs[k] /= sumExp
		}

		// -log softmax_t = logsumexp(x) - x_t
		lossSum += maxv + math.Log(sumExp) - itemLogits[targetIndex]
	}

	lossTensor, err := tensor.NewTensor([]int{1}, []float64{lossSum / float64(batchSize)})
	if err != nil {
		return nil, fmt.Errorf("cross_entropy_loss: failed to create output tensor for mean loss: %w", err)
	}
	lossTensor = lossTensor.To(logits.Device())

	if logits.RequiresGrad {
		lossTensor.RequiresGrad = true
		lossTensor.Parents = []*tensor.Tensor{logits}
		lossTensor.Operation = "cross_entropy_loss"
		lossTensor.BackwardFunc = func(grad *tensor.Tensor) {
			// d loss / d logits = upstream * (softmax - onehot) / batch
			gradData := make([]float64, len(logitsData))
			scale := grad.GetData()[0] / float64(batchSize)

			numGoroutines := runtime.NumCPU()
			jobsPerGo := (batchSize + numGoroutines - 1) / numGoroutines
			var wg sync.WaitGroup

			for g := 0; g < numGoroutines; g++ {
				startBatch, endBatch := g*jobsPerGo, (g+1)*jobsPerGo
				if endBatch > batchSize {
					endBatch = batchSize
				}
				if startBatch >= endBatch {
					continue
				}

				wg.Add(1)
				go func(sB, eB int) {
					defer wg.Done()
					for item := sB; item < eB; item++ {
						base := item * numClasses
						for j := 0; j < numClasses; j++ {
							v := probsData[base+j]
							if j == targets[item] {
								v -= 1
							}
							gradData[base+j] = v * scale
						}
					}
				}(startBatch, endBatch)
			}
			wg.Wait()

			gradForLogits, err := tensor.NewTensor(shape, gradData)
			if err != nil {
				slog.Warn("cross entropy backward failed", "error", err)
				return
			}
			logits.Backward(gradForLogits)
		}
	}

	return lossTensor, nil
}
