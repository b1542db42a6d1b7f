package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"go-protonet/checkpoint"
	"go-protonet/episode"
	"go-protonet/nn"
	"go-protonet/optimizer"
	"go-protonet/protonet"
	"go-protonet/tensor"
	"go-protonet/utility"
)

type config struct {
	dataDir      string
	baseClasses  int
	nWay         int
	testWay      int
	nShot        int
	nQuery       int
	epochs       int
	episodes     int
	testEpisodes int
	lr           float64
	optimizer    string
	backbone     string
	hidden       int
	seed         int64
	device       string
	parallel     int
	printFreq    int
	checkpoint   string
	codec        string
	s3Endpoint   string
	s3Bucket     string
	s3Prefix     string
	s3Secure     bool
	cacheSize    int
	dashboard    bool
	logLevel     string
}

func parseFlags() config {
	var c config
	flag.StringVar(&c.dataDir, "data-dir", "", "directory with MNIST IDX files; synthetic clusters when empty")
	flag.IntVar(&c.baseClasses, "base-classes", 0, "classes used for training, the rest for evaluation (default: 70%)")
	flag.IntVar(&c.nWay, "way", 5, "classes per training episode")
	flag.IntVar(&c.testWay, "test-way", 5, "classes per evaluation episode")
	flag.IntVar(&c.nShot, "shot", 1, "support examples per class")
	flag.IntVar(&c.nQuery, "query", 5, "query examples per class")
	flag.IntVar(&c.epochs, "epochs", 5, "training epochs")
	flag.IntVar(&c.episodes, "episodes", 100, "training episodes per epoch")
	flag.IntVar(&c.testEpisodes, "test-episodes", 200, "evaluation episodes")
	flag.Float64Var(&c.lr, "lr", 0.001, "learning rate")
	flag.StringVar(&c.optimizer, "optimizer", "adam", "adam or sgd")
	flag.StringVar(&c.backbone, "backbone", "auto", "mlp, conv or auto (conv for image data)")
	flag.IntVar(&c.hidden, "hidden", 32, "hidden width of the embedding")
	flag.Int64Var(&c.seed, "seed", 1, "seed for weights and episode sampling")
	flag.StringVar(&c.device, "device", "cpu", "distance device: cpu or blas")
	flag.IntVar(&c.parallel, "parallel", 4, "episodes evaluated concurrently")
	flag.IntVar(&c.printFreq, "print-freq", 10, "log every n training episodes")
	flag.StringVar(&c.checkpoint, "checkpoint", "protonet.ckpt", "checkpoint path for the best model")
	flag.StringVar(&c.codec, "checkpoint-codec", "zstd", "checkpoint compression: zstd or lz4")
	flag.StringVar(&c.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint that also receives the best checkpoint; credentials from S3_ACCESS_KEY and S3_SECRET_KEY")
	flag.StringVar(&c.s3Bucket, "s3-bucket", "protonet", "bucket for remote checkpoints")
	flag.StringVar(&c.s3Prefix, "s3-prefix", "checkpoints/", "object key prefix for remote checkpoints")
	flag.BoolVar(&c.s3Secure, "s3-secure", true, "use TLS for the S3 endpoint")
	flag.IntVar(&c.cacheSize, "cache-size", 1<<16, "embeddings kept by the evaluation feature cache")
	flag.BoolVar(&c.dashboard, "dashboard", false, "show the terminal dashboard")
	flag.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.Parse()
	return c
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func deviceByName(name string) (tensor.Device, error) {
	switch name {
	case "cpu":
		return tensor.CPU, nil
	case "blas":
		return tensor.BLAS, nil
	default:
		return nil, fmt.Errorf("unknown device %q", name)
	}
}

func loadData(c config, rng *rand.Rand) (*episode.Dataset, error) {
	if c.dataDir == "" {
		return episode.SyntheticClusters(rng, 20, 40, 16, 0.6)
	}
	return episode.LoadIDX(
		filepath.Join(c.dataDir, "train-images-idx3-ubyte"),
		filepath.Join(c.dataDir, "train-labels-idx1-ubyte"),
	)
}

// buildEmbedding picks a backbone for the example shape.
func buildEmbedding(c config, exampleShape []int, rng *rand.Rand) (*nn.Sequential, error) {
	backbone := c.backbone
	if backbone == "auto" {
		backbone = "mlp"
		if len(exampleShape) == 3 {
			backbone = "conv"
		}
	}
	switch backbone {
	case "conv":
		if len(exampleShape) != 3 {
			return nil, fmt.Errorf("conv backbone needs [C, H, W] examples, got %v", exampleShape)
		}
		return nn.NewConvNet(rng, exampleShape[0], c.hidden, 2)
	case "mlp":
		in := 1
		for _, d := range exampleShape {
			in *= d
		}
		model, err := nn.NewMLP(rng, in, c.hidden*2, c.hidden)
		if err != nil {
			return nil, err
		}
		if len(exampleShape) > 1 {
			model = nn.NewSequential(append([]nn.Layer{nn.NewFlatten()}, model.Layers()...)...)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown backbone %q", c.backbone)
	}
}

func buildOptimizer(c config, params []*tensor.Tensor) (protonet.Optimizer, error) {
	switch c.optimizer {
	case "adam":
		opt, err := optimizer.NewAdam(params, c.lr)
		if err != nil {
			return nil, err
		}
		return opt, nil
	case "sgd":
		opt, err := optimizer.NewSGD(params, c.lr)
		if err != nil {
			return nil, err
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", c.optimizer)
	}
}

// remoteStore returns nil when no endpoint is configured.
func remoteStore(c config) (checkpoint.Store, error) {
	if c.s3Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(c.s3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), ""),
		Secure: c.s3Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return checkpoint.NewMinioStore(client, c.s3Bucket, c.s3Prefix), nil
}

// placedSource moves every episode onto the distance device.
type placedSource struct {
	protonet.Source
	dev tensor.Device
}

func (s placedSource) Episode(i int) (*tensor.Tensor, error) {
	x, err := s.Source.Episode(i)
	if err != nil {
		return nil, err
	}
	return x.To(s.dev), nil
}

func main() {
	if err := run(parseFlags()); err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(c config) error {
	logOut := io.Writer(os.Stderr)
	if c.dashboard {
		logOut = io.Discard
	}
	logger, err := newLogger(c.logLevel, logOut)
	if err != nil {
		return err
	}
	dev, err := deviceByName(c.device)
	if err != nil {
		return err
	}
	codec, err := checkpoint.ParseCodec(c.codec)
	if err != nil {
		return err
	}
	remote, err := remoteStore(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rng := rand.New(rand.NewSource(c.seed))

	// -- Load Data --
	ds, err := loadData(c, rng)
	if err != nil {
		return fmt.Errorf("loading data: %w", err)
	}
	nBase := c.baseClasses
	if nBase == 0 {
		nBase = len(ds.Classes()) * 7 / 10
	}
	base, novel, err := ds.SplitClasses(nBase)
	if err != nil {
		return err
	}
	logger.Info("dataset",
		"examples", ds.Len(),
		"example_shape", ds.ExampleShape(),
		"base_classes", len(base.Classes()),
		"novel_classes", len(novel.Classes()),
	)

	// -- Initialize Model and Optimizer --
	embed, err := buildEmbedding(c, ds.ExampleShape(), rng)
	if err != nil {
		return err
	}
	if !c.dashboard {
		if err := utility.NewModelInspector(embed).Summary(os.Stderr); err != nil {
			return err
		}
	}

	trainTask := protonet.Task{NWay: c.nWay, NSupport: c.nShot, NQuery: c.nQuery}
	testTask := protonet.Task{NWay: c.testWay, NSupport: c.nShot, NQuery: c.nQuery}

	var dash *utility.TrainingDashboard
	var epochStart time.Time
	totalStart := time.Now()
	opts := []protonet.Option{
		protonet.WithLogger(logger),
		protonet.WithPrintFreq(c.printFreq),
		protonet.WithParallelism(c.parallel),
	}
	if c.dashboard {
		dash, err = utility.NewTrainingDashboard(utility.DashboardConfig{
			Task:         trainTask,
			LearningRate: c.lr,
			Epochs:       c.epochs,
			Episodes:     c.episodes,
			Device:       dev.Name(),
		})
		if err != nil {
			return err
		}
		defer dash.Close()
		opts = append(opts, protonet.WithProgress(func(p protonet.Progress) {
			dash.Update(p, epochStart, totalStart)
		}))
	}

	trainer, err := protonet.New(embed, trainTask, opts...)
	if err != nil {
		return err
	}
	// evaluation episodes may use a different way than training
	evaluator, err := protonet.New(embed, testTask, append(opts, protonet.WithAdaptiveTask())...)
	if err != nil {
		return err
	}

	opt, err := buildOptimizer(c, embed.Parameters())
	if err != nil {
		return err
	}

	valSampler, err := episode.NewSampler(novel, testTask, c.testEpisodes, c.seed+1)
	if err != nil {
		return err
	}
	val := placedSource{Source: valSampler, dev: dev}

	// -- Training Loop --
	best := -1.0
	meta := map[string]string{
		"task":     trainTask.String(),
		"backbone": c.backbone,
		"seed":     fmt.Sprint(c.seed),
	}
	for epoch := 0; epoch < c.epochs; epoch++ {
		trainSampler, err := episode.NewSampler(base, trainTask, c.episodes, c.seed*7919+int64(epoch))
		if err != nil {
			return err
		}

		epochStart = time.Now()
		avgLoss, err := trainer.TrainLoop(ctx, epoch, placedSource{Source: trainSampler, dev: dev}, opt)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		eval, err := evaluator.TestLoop(ctx, val)
		if err != nil {
			return fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}
		logger.Info("epoch done",
			"epoch", epoch,
			"avg_loss", avgLoss,
			"val_acc", eval.Mean,
			"ci95", eval.CI95,
			"elapsed", time.Since(epochStart).Round(time.Millisecond),
		)
		if dash != nil {
			dash.AddEvaluation(eval)
		}

		if eval.Mean > best {
			best = eval.Mean
			meta["val_acc"] = fmt.Sprintf("%.2f", eval.Mean)
			if err := checkpoint.Save(c.checkpoint, embed.Parameters(), meta, checkpoint.WithCodec(codec)); err != nil {
				return err
			}
			logger.Info("saved best model", "path", c.checkpoint, "codec", codec, "val_acc", best)
			if remote != nil {
				name := filepath.Base(c.checkpoint)
				if err := checkpoint.SaveTo(ctx, remote, name, embed.Parameters(), meta, checkpoint.WithCodec(codec)); err != nil {
					logger.Warn("uploading checkpoint failed", "bucket", c.s3Bucket, "name", name, "error", err)
				} else {
					logger.Debug("uploaded checkpoint", "bucket", c.s3Bucket, "name", name)
				}
			}
		}
	}

	// -- Reload and evaluate on cached features --
	reloaded, err := buildEmbedding(c, ds.ExampleShape(), rand.New(rand.NewSource(c.seed)))
	if err != nil {
		return err
	}
	saved, err := checkpoint.Load(c.checkpoint, reloaded.Parameters())
	if err != nil {
		return err
	}

	cache, err := episode.NewFeatureCache(reloaded, novel, c.cacheSize)
	if err != nil {
		return err
	}
	if err := cache.Warm(ctx, 256, c.parallel); err != nil {
		return fmt.Errorf("warming feature cache: %w", err)
	}
	finalSampler, err := episode.NewSampler(novel, testTask, c.testEpisodes, c.seed+2)
	if err != nil {
		return err
	}
	features, err := cache.Source(finalSampler)
	if err != nil {
		return err
	}
	final, err := protonet.New(nil, testTask, protonet.WithLogger(logger), protonet.WithParallelism(c.parallel))
	if err != nil {
		return err
	}
	eval, err := final.TestLoop(ctx, features)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("evaluation interrupted")
		}
		return err
	}
	hits, misses := cache.Stats()
	logger.Info("final evaluation",
		"checkpoint_val_acc", saved["val_acc"],
		"test_acc", fmt.Sprintf("%4.2f%% +- %4.2f%%", eval.Mean, eval.CI95),
		"cache_hits", hits,
		"cache_misses", misses,
	)

	if dash != nil {
		dash.Log(fmt.Sprintf("Test Acc = %4.2f%% +- %4.2f%%  (press q to quit)", eval.Mean, eval.CI95))
		dash.Loop()
	}
	return nil
}
