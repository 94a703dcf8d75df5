package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ritzau/pageload-estimator/pkg/artifacts"
	"github.com/ritzau/pageload-estimator/pkg/config"
	"github.com/ritzau/pageload-estimator/pkg/fixture"
	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
	"github.com/ritzau/pageload-estimator/pkg/output"
	"github.com/ritzau/pageload-estimator/pkg/pubsub"
	"github.com/ritzau/pageload-estimator/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("pageload-estimator", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pageload-estimator [flags] <fixture file or directory>...\n\n")
		flags.PrintDefaults()
	}
	flags.Bool("web", false, "Serve estimates over HTTP instead of printing them")
	flags.Int("port", 8080, "Port for the web server (only used with --web)")
	flags.Bool("watch", false, "Re-estimate fixtures when they change")
	flags.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	flags.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	flags.String("log-format", "compact", "Log format: compact, json, color")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if args := flags.Args(); len(args) > 0 {
		cfg.Fixtures = args
	}
	if len(cfg.Fixtures) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	if err := logging.Configure(cfg.LogFormat, cfg.Verbosity, cfg.VerboseCnt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("estimation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	files, err := fixture.Discover(cfg.Fixtures)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no fixture files found in %v", cfg.Fixtures)
	}

	provider := artifacts.NewProvider(fixture.FileLoader{}, metrics.NewEstimator(cfg.SimulationDefaults()))
	logging.Info("estimating fixtures", "count", len(files))

	if cfg.WebMode {
		return serve(ctx, cfg, provider, files)
	}

	r := &runner{provider: provider, sink: consoleSink{}}
	failed := r.estimateAll(ctx, files)

	if cfg.Watch {
		return watch(ctx, cfg.Fixtures, r)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fixture(s) failed", failed, len(files))
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, provider *artifacts.Provider, files []string) error {
	server := web.NewServer()
	defer server.Close()

	r := &runner{provider: provider, sink: webSink{server: server}}
	tasks := []func() error{
		func() error { return server.Start(cfg.Port) },
		func() error {
			r.estimateAll(ctx, files)
			if cfg.Watch {
				return watch(ctx, cfg.Fixtures, r)
			}
			<-ctx.Done()
			return nil
		},
	}
	return firstError(ctx, tasks...)
}

// firstError runs tasks concurrently and returns the first result, or nil once ctx is done.
// Tasks still running afterwards can finish without blocking.
func firstError(ctx context.Context, tasks ...func() error) error {
	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		go func() {
			errs <- task()
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// consoleSink prints reports as they complete
type consoleSink struct{}

func (consoleSink) started(path string, step, total int) {}

func (consoleSink) completed(report *artifacts.Report) {
	output.PrintEstimateReport(os.Stdout, report)
	fmt.Println()
}

func (consoleSink) failed(path string, err error) {
	output.PrintError(os.Stderr, path, err)
}

func (consoleSink) removed(traceID string) {
	logging.Info("fixture removed", "trace", traceID)
}

// webSink stores reports in the server and publishes progress
type webSink struct {
	server *web.Server
}

func (s webSink) started(path string, step, total int) {
	s.server.PublishEstimateStatus(pubsub.StateEstimating, "", fmt.Sprintf("Estimating %s", path), step, total)
}

func (s webSink) completed(report *artifacts.Report) {
	if err := s.server.SetReport(report); err != nil {
		logging.Warn("failed to publish estimate", "trace", report.TraceID, "error", err)
		return
	}
	s.server.PublishEstimateStatus(pubsub.StateComplete, report.TraceID, "Estimate complete", 0, 0)
}

func (s webSink) failed(path string, err error) {
	s.server.PublishEstimateStatus(pubsub.StateFailed, "", fmt.Sprintf("%s: %v", path, err), 0, 0)
}

func (s webSink) removed(traceID string) {
	s.server.RemoveTrace(traceID)
}
