// Command example wires the kafka package's Consumer facade to a real
// franz-go client and prints every record it receives until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred-codev/kafkaconsumer/kafka"
)

func main() {
	logger := kafka.NewLogger(kafka.LoggerConfig{Level: kafka.LogLevelInfo, Format: kafka.LogFormatPretty})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug().Msgf(format, args...)
	})); err != nil {
		logger.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup limits")
	}

	cfg, err := kafka.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.LogConfig(logger)

	client, err := kafka.NewFranzClient(kafka.FranzClientConfig{
		Brokers:       strings.Split(cfg.KafkaBrokers, ","),
		ConsumerGroup: cfg.ConsumerGroup,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka client")
	}

	reg := prometheusRegistry()
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(":9090", nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	consumer, fiber, err := kafka.New[string, string](
		client,
		*cfg,
		stringDeserializer,
		stringDeserializer,
		kafka.WithLogger(logger),
		kafka.WithPrometheusRegisterer(reg),
		kafka.WithPollBurstLimit(50, 10),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct consumer")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := consumer.SubscribeTo(ctx, os.Getenv("KAFKA_TOPIC")); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe")
	}

	messages, err := consumer.Stream(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start stream")
	}

	go func() {
		<-ctx.Done()
		fiber.Cancel()
	}()

	for msg := range messages {
		logger.Info().
			Str("topic", msg.Record.Topic).
			Int32("partition", msg.Record.Partition).
			Int64("offset", msg.Record.Offset).
			Str("key", msg.Record.Key).
			Msg("record received")
	}

	if err := fiber.Join(context.Background()); err != nil {
		logger.Error().Err(err).Msg("consumer shut down with error")
		os.Exit(1)
	}
	logger.Info().Msg("consumer shut down cleanly")
}

func stringDeserializer(_ string, data []byte) (string, error) {
	return string(data), nil
}

func prometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
