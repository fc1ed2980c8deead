package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("AML_CONFIG"), "YAML config file (defaults to environment)")
		serve      = flag.Bool("serve", false, "serve the HTTP API instead of screening a file")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-serve] <csv_file_path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if *serve {
		// the interrupter service owns signal handling in serve mode
		err = runServer(context.Background(), cfg, logger)
	} else {
		if flag.NArg() != 1 {
			flag.Usage()
			os.Exit(2)
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = runBatch(ctx, cfg, logger, flag.Arg(0))
		cancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("aml alerting failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	return LoadConfigFromEnv()
}

// runBatch screens a CSV feed and prints one line per transaction in feed order.
func runBatch(ctx context.Context, cfg Config, logger *slog.Logger, path string) error {
	transactions, err := NewCSVReader(cfg.Limits(), logger).ReadFile(path)
	if err != nil {
		return err
	}

	registry := NewRegistry(cfg)
	screener, err := NewScreener(cfg, registry)
	if err != nil {
		return err
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "sink", sink)

	start := time.Now()
	decisions, err := screener.Screen(ctx, transactions)
	if err != nil {
		return err
	}
	if err := Emit(ctx, sink, decisions); err != nil {
		return err
	}

	alerts := 0
	for _, d := range decisions {
		if d.Alert {
			alerts++
		}
	}
	logger.Info("feed screened",
		"path", path,
		"driver", cfg.Driver,
		"transactions", len(decisions),
		"accounts", registry.Len(),
		"alerts", alerts,
		"elapsed", time.Since(start))
	return nil
}

// runServer serves the HTTP API and, when a feed topic is configured, screens
// the Kafka transaction feed against the same registry.
func runServer(ctx context.Context, cfg Config, logger *slog.Logger) error {
	var sink Sink
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := NewKafkaSink(cfg, nil)
		if err != nil {
			return err
		}
		defer closeLogged(logger, "kafka sink", ks)
		sink = ks
	}

	registry := NewRegistry(cfg)
	server := NewServer(registry, sink, logger)

	services := []Service{
		newHTTPService(cfg.HTTPAddr, server.Router(), logger),
		interrupter{},
	}

	if cfg.Kafka.FeedTopic != "" {
		source, err := NewKafkaSource(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer closeLogged(logger, "kafka source", source)

		services = append(services, feedService{
			source:   source,
			screener: NewPipelineScreener(registry, cfg.Workers),
			sink:     sink,
			logger:   logger,
		})
		logger.Info("screening kafka feed", "topic", cfg.Kafka.FeedTopic, "group", cfg.Kafka.Group)
	}

	err := runServices(ctx, services...)
	if errors.Is(err, ErrInterrupted) {
		logger.Info("shutdown complete", "reason", err)
		return nil
	}
	return err
}

// newSink builds the report sink: stdout lines, plus Kafka when brokers are configured.
func newSink(cfg Config, logger *slog.Logger) (Sink, error) {
	sinks := MultiSink{NewLineSink(os.Stdout, logger)}

	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := NewKafkaSink(cfg, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
	}
	return sinks, nil
}

// closeLogged closes c and logs a failure, for deferred cleanup.
func closeLogged(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("close "+what, "err", err)
	}
}
