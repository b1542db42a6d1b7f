package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"go-protonet/autograd"
	"go-protonet/distance"
	"go-protonet/nn"
	"go-protonet/protonet"
	"go-protonet/tensor"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	fmt.Println("--> pairwise squared distance")

	x, err := tensor.FromRows([][]float64{{0, 0}, {1, 2}, {-3, 4}})
	if err != nil {
		fatal("creating x", err)
	}
	y, err := tensor.FromRows([][]float64{{1, 1}, {0.5, -2}})
	if err != nil {
		fatal("creating y", err)
	}

	d, err := distance.Euclidean(x, y)
	if err != nil {
		fatal("cpu distance", err)
	}
	fmt.Print("dist(x, y) on cpu: ")
	tensor.PrintTensor(d)

	dBLAS, err := distance.Euclidean(x.To(tensor.BLAS), y.To(tensor.BLAS))
	if err != nil {
		fatal("blas distance", err)
	}
	fmt.Print("dist(x, y) on blas: ")
	tensor.PrintTensor(dBLAS)
	fmt.Println()

	// ------------------- Pre-embedded episode ------------- //

	fmt.Println("--> 2-way 1-shot 1-query feature episode")

	// class 0: support 0.0, query 0.1; class 1: support 10.0, query 9.9
	episode, err := tensor.NewTensor([]int{2, 2, 1}, []float64{0, 0.1, 10, 9.9})
	if err != nil {
		fatal("creating episode", err)
	}
	task := protonet.Task{NWay: 2, NSupport: 1, NQuery: 1}
	scorer, err := protonet.New(nil, task)
	if err != nil {
		fatal("creating classifier", err)
	}

	scores, err := scorer.Score(episode, true)
	if err != nil {
		fatal("scoring", err)
	}
	fmt.Print("Scores (-distance): ")
	tensor.PrintTensor(scores)

	labels, err := protonet.QueryLabels(task.NWay, task.NQuery)
	if err != nil {
		fatal("labels", err)
	}
	fmt.Println("Query labels:", labels)

	loss, err := scorer.Loss(episode, true)
	if err != nil {
		fatal("loss", err)
	}
	fmt.Print("Loss: ")
	tensor.PrintTensor(loss)
	fmt.Println()

	// ------------------- Raw episode through an embedding ------------- //

	fmt.Println("--> 3-way 2-shot 2-query raw episode through an MLP embedding")

	rng := rand.New(rand.NewSource(1))
	embed, err := nn.NewMLP(rng, 4, 16, 8)
	if err != nil {
		fatal("creating embedding", err)
	}
	rawTask := protonet.Task{NWay: 3, NSupport: 2, NQuery: 2}
	net, err := protonet.New(embed, rawTask)
	if err != nil {
		fatal("creating classifier", err)
	}

	raw, err := tensor.NewTensor([]int{3, 4, 4}, nil)
	if err != nil {
		fatal("creating raw episode", err)
	}
	for i := range raw.Data() {
		class := i / 16
		raw.Data()[i] = float64(class) + 0.1*rng.NormFloat64()
	}

	protos, err := net.Prototypes(raw, false)
	if err != nil {
		fatal("prototypes", err)
	}
	fmt.Println("Prototype shape:", protos.Shape())

	rawLoss, err := net.Loss(raw, false)
	if err != nil {
		fatal("loss", err)
	}
	fmt.Print("Loss: ")
	tensor.PrintTensor(rawLoss)

	fmt.Println("\nPerforming Backward Pass...")
	if err := autograd.Backward(rawLoss); err != nil {
		fatal("backward", err)
	}
	for i, p := range embed.Parameters() {
		var norm float64
		for _, g := range p.Grad.Data() {
			norm += g * g
		}
		fmt.Printf("param %d %v grad sq-norm: %.6f\n", i, p.Shape(), norm)
	}

	correct, total, err := net.Correct(raw, false)
	if err != nil {
		fatal("accuracy", err)
	}
	fmt.Printf("\nUntrained accuracy: %d / %d\n", correct, total)
}
