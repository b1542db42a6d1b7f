package protonet

import "log/slog"

type options struct {
	adaptive    bool
	logger      *slog.Logger
	printFreq   int
	progress    func(Progress)
	parallelism int
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		printFreq:   10,
		parallelism: 1,
	}
}

// Option configures a ProtoNet.
type Option func(*options)

// WithAdaptiveTask derives n_way and n_query from each episode's leading dimensions
// instead of requiring them to match the configured task. n_support stays fixed.
func WithAdaptiveTask() Option {
	return func(o *options) {
		o.adaptive = true
	}
}

// WithLogger sets the logger used by the train and test loops.
// If nil is passed, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = slog.Default()
		}
		o.logger = l
	}
}

// WithPrintFreq logs training progress every n episodes. n <= 0 disables it.
func WithPrintFreq(n int) Option {
	return func(o *options) {
		o.printFreq = n
	}
}

// WithProgress registers a callback invoked after every training episode.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithParallelism bounds how many episodes TestLoop evaluates at once.
// Values below 1 are treated as 1.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.parallelism = n
	}
}
