package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"go-protonet/autograd"
	"go-protonet/distance"
	"go-protonet/nn"
	"go-protonet/protonet"
	"go-protonet/tensor"
)

// task shapes benchmarked: the usual few-shot evaluation settings
var tasks = []protonet.Task{
	{NWay: 5, NSupport: 1, NQuery: 15},
	{NWay: 5, NSupport: 5, NQuery: 15},
	{NWay: 20, NSupport: 5, NQuery: 15},
}

func generateRandomData(rng *rand.Rand, size int) []float64 {
	data := make([]float64, size)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return data
}

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	t, err := tensor.NewTensor(shape, generateRandomData(rng, n))
	if err != nil {
		fatal("creating tensor", err)
	}
	return t
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// timeIt returns the mean wall time of fn over iterations.
func timeIt(iterations int, fn func() error) time.Duration {
	var total time.Duration
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if err := fn(); err != nil {
			fatal("benchmark step", err)
		}
		total += time.Since(start)
	}
	return total / time.Duration(iterations)
}

// we time the following:
// 1) pairwise distance per device      - queries x prototypes at several feature dims
// 2) episode scoring on features        - per task shape and device
// 3) episode loss forward + backward    - through an MLP embedding

func benchmarkDistance(rng *rand.Rand, dev tensor.Device, n, m, d, iterations int) time.Duration {
	x := randomTensor(rng, n, d).To(dev)
	y := randomTensor(rng, m, d).To(dev)
	return timeIt(iterations, func() error {
		_, err := distance.Euclidean(x, y)
		return err
	})
}

func benchmarkScore(rng *rand.Rand, dev tensor.Device, task protonet.Task, d, iterations int) time.Duration {
	p, err := protonet.New(nil, task)
	if err != nil {
		fatal("creating classifier", err)
	}
	x := randomTensor(rng, task.NWay, task.PerClass(), d).To(dev)
	return timeIt(iterations, func() error {
		_, err := p.Score(x, true)
		return err
	})
}

func benchmarkForwardBackward(rng *rand.Rand, task protonet.Task, inputDim, hiddenDim, outputDim, iterations int) time.Duration {
	embed, err := nn.NewMLP(rng, inputDim, hiddenDim, outputDim)
	if err != nil {
		fatal("creating embedding", err)
	}
	p, err := protonet.New(embed, task)
	if err != nil {
		fatal("creating classifier", err)
	}
	x := randomTensor(rng, task.NWay, task.PerClass(), inputDim)
	return timeIt(iterations, func() error {
		embed.ZeroGrad()
		loss, err := p.Loss(x, false)
		if err != nil {
			return err
		}
		return autograd.Backward(loss)
	})
}

func main() {
	iterations := flag.Int("iterations", 100, "iterations per benchmark")
	seed := flag.Int64("seed", 1, "data seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	devices := []tensor.Device{tensor.CPU, tensor.BLAS}

	fmt.Println("--- ProtoNet Benchmarks ---")
	fmt.Printf("Iterations per benchmark: %d\n\n", *iterations)

	fmt.Println("--- Pairwise Distance (75 queries x 5 prototypes) ---")
	for _, d := range []int{64, 512, 1600} {
		for _, dev := range devices {
			fmt.Printf("dim %4d  %-4s: %v\n", d, dev.Name(), benchmarkDistance(rng, dev, 75, 5, d, *iterations))
		}
	}
	fmt.Println()

	fmt.Println("--- Episode Scoring (feature dim 1600) ---")
	for _, task := range tasks {
		for _, dev := range devices {
			fmt.Printf("%-26s %-4s: %v\n", task, dev.Name(), benchmarkScore(rng, dev, task, 1600, *iterations))
		}
	}
	fmt.Println()

	fmt.Println("--- Episode Loss Forward-Backward (MLP 128-256-64) ---")
	for _, task := range tasks {
		// reduced iterations for the slower forward-backward
		fmt.Printf("%-26s: %v\n", task, benchmarkForwardBackward(rng, task, 128, 256, 64, max(1, *iterations/10)))
	}

	fmt.Println("\n--- Benchmarks Complete ---")
}
