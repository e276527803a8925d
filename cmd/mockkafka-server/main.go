package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/grafana/mockkafka/pkg/mockcluster"
	"github.com/grafana/mockkafka/pkg/mockkafkalog"
)

// main starts a standalone mockkafka-server process: a mock Kafka cluster
// reachable over real TCP, with its bootstrap string logged at startup and
// its Prometheus metrics served over HTTP, following the teacher's own
// flag-then-YAML-overlay config loading (cmd/tempo/main.go's loadConfig).
func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	mockkafkalog.InitLogger(config.LogLevel)

	cluster, err := mockcluster.New(
		mockcluster.NumBrokers(config.NumBrokers),
		mockcluster.WithListenHost(config.ListenHost),
		mockcluster.WithAutoCreate(config.AutoPartitionCnt, config.AutoReplFactor),
	)
	if err != nil {
		level.Error(mockkafkalog.Logger).Log("msg", "error starting mock cluster", "err", err)
		os.Exit(1)
	}
	defer cluster.Close()

	if !config.AutoCreateTopics {
		// WithAutoCreate above always enables auto-create; undo it through
		// the control queue when the operator asked for it off.
		if err := cluster.SetAutoCreateDefaults(context.Background(), false, config.AutoPartitionCnt, config.AutoReplFactor); err != nil {
			level.Error(mockkafkalog.Logger).Log("msg", "error applying auto-create config", "err", err)
			os.Exit(1)
		}
	}

	level.Info(mockkafkalog.Logger).Log("msg", "mock Kafka cluster started", "cluster_id", cluster.ID(), "bootstrap", cluster.Bootstrap())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cluster.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: config.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(mockkafkalog.Logger).Log("msg", "metrics server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	level.Info(mockkafkalog.Logger).Log("msg", "shutting down")
	_ = srv.Close()
}

// loadConfig applies flag defaults first, optionally overlays a YAML file
// named by -config.file, then re-parses the command line so explicit flags
// win last — the teacher's loadConfig() shape in cmd/tempo/main.go, trimmed
// of the tracing/ballast/multi-target machinery this single-purpose binary
// has no use for.
func loadConfig() (*Config, error) {
	const configFileOption = "config.file"

	var configFile string
	args := os.Args[1:]

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	config := &Config{}
	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := yaml.UnmarshalStrict(buf, config); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flag.CommandLine.String(configFileOption, "", "Configuration file to load.")
	flag.Parse()

	return config, nil
}
