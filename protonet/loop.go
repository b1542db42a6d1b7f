package protonet

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"go-protonet/autograd"
	"go-protonet/tensor"
)

// Source yields episodes by index.
type Source interface {
	Len() int
	Episode(i int) (*tensor.Tensor, error)
}

// featureSource is implemented by sources whose episodes are already embedded.
type featureSource interface {
	IsFeature() bool
}

func isFeatureSource(src Source) bool {
	fs, ok := src.(featureSource)
	return ok && fs.IsFeature()
}

// Optimizer is the part of an optimizer the training loop drives.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// Progress is reported after every training episode.
type Progress struct {
	Epoch    int
	Episode  int
	Episodes int
	Loss     float64
	AvgLoss  float64
}

// Evaluation summarizes a test loop. Accuracies are per-episode percentages.
type Evaluation struct {
	Accuracies []float64
	Mean       float64
	// CI95 is the half-width of the 95% confidence interval of Mean.
	CI95 float64
}

// TrainLoop runs one epoch: for each episode it zeroes gradients, computes the loss,
// backpropagates and steps opt. It returns the mean episode loss.
func (p *ProtoNet) TrainLoop(ctx context.Context, epoch int, src Source, opt Optimizer) (float64, error) {
	n := src.Len()
	if n == 0 {
		return 0, fmt.Errorf("protonet: train source is empty")
	}
	isFeature := isFeatureSource(src)

	var total float64
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		x, err := src.Episode(i)
		if err != nil {
			return 0, fmt.Errorf("episode %d: %w", i, err)
		}

		opt.ZeroGrad()
		loss, err := p.Loss(x, isFeature)
		if err != nil {
			return 0, fmt.Errorf("episode %d: %w", i, err)
		}
		if err := autograd.Backward(loss); err != nil {
			return 0, fmt.Errorf("episode %d: backward: %w", i, err)
		}
		if err := opt.Step(); err != nil {
			return 0, fmt.Errorf("episode %d: step: %w", i, err)
		}

		value := loss.Data()[0]
		total += value
		avg := total / float64(i+1)

		if f := p.opts.printFreq; f > 0 && (i+1)%f == 0 {
			p.opts.logger.Info("train",
				"epoch", epoch,
				"episode", i+1,
				"episodes", n,
				"loss", avg,
			)
		}
		if p.opts.progress != nil {
			p.opts.progress(Progress{Epoch: epoch, Episode: i + 1, Episodes: n, Loss: value, AvgLoss: avg})
		}
	}
	return total / float64(n), nil
}

// TestLoop evaluates every episode of src and reports the mean accuracy with a 95%
// confidence interval. Up to the configured parallelism episodes run concurrently.
func (p *ProtoNet) TestLoop(ctx context.Context, src Source) (Evaluation, error) {
	n := src.Len()
	if n == 0 {
		return Evaluation{}, fmt.Errorf("protonet: test source is empty")
	}
	isFeature := isFeatureSource(src)
	accs := make([]float64, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.parallelism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, err := src.Episode(i)
			if err != nil {
				return fmt.Errorf("episode %d: %w", i, err)
			}
			correct, total, err := p.Correct(x, isFeature)
			if err != nil {
				return fmt.Errorf("episode %d: %w", i, err)
			}
			accs[i] = float64(correct) / float64(total) * 100
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Evaluation{}, err
	}

	eval := summarize(accs)
	p.opts.logger.Info("test",
		"episodes", n,
		"acc", fmt.Sprintf("%4.2f%% +- %4.2f%%", eval.Mean, eval.CI95),
	)
	return eval, nil
}

func summarize(accs []float64) Evaluation {
	mean := stat.Mean(accs, nil)
	std := math.Sqrt(stat.PopVariance(accs, nil))
	return Evaluation{
		Accuracies: accs,
		Mean:       mean,
		CI95:       1.96 * std / math.Sqrt(float64(len(accs))),
	}
}
