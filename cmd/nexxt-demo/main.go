package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ifm/nexxT/filters/mqttsink"
	"github.com/ifm/nexxT/filters/redisource"
	"github.com/ifm/nexxT/internal/lifecycle"
	"github.com/ifm/nexxT/internal/nxlog"
)

func main() {
	os.Exit(run())
}

// run contains the program logic and returns an exit code, so deferred
// cleanup always executes before the process exits.
func run() int {
	cfg := loadConfig()

	log, err := newLogger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	ctrl := lifecycle.New(log, nil, nil, nil)

	if err := buildGraph(ctrl, cfg); err != nil {
		log.Error("failed to build graph", nxlog.Err(err))
		return 1
	}

	if err := ctrl.RunForward(); err != nil {
		log.Error("failed to start graph", nxlog.Err(err))
		return 1
	}
	log.Info("nexxt-demo graph running",
		nxlog.String("stream", cfg.RedisStream), nxlog.String("topic", cfg.MQTTTopic))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", nxlog.String("signal", sig.String()))

	shutdownDone := make(chan struct{})
	go func() {
		ctrl.Shutdown()
		close(shutdownDone)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	select {
	case <-shutdownDone:
		log.Info("graph shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("graph shutdown did not complete within timeout, exiting anyway")
	}
	return 0
}

// buildGraph registers the source and sink nodes and connects them: a
// graph wired entirely through NodeSpec/ConnectionSpec, the same shape
// graphcfg's document types describe but without a plugin-discovery
// step behind it.
func buildGraph(ctrl *lifecycle.Controller, cfg Config) error {
	sourceFactory := redisource.NewFactory(redisource.Config{
		Addresses: cfg.RedisAddresses,
		Stream:    cfg.RedisStream,
		Group:     cfg.RedisGroup,
	}, nil)

	sinkFactory := mqttsink.NewFactory(mqttsink.Config{
		Brokers:  cfg.MQTTBrokers,
		ClientID: cfg.MQTTClientID,
		Topic:    cfg.MQTTTopic,
		QoS:      0,
	}, nil)

	if err := ctrl.AddNode(lifecycle.NodeSpec{
		Name:              "RedisSource",
		ThreadName:        "io",
		Factory:           sourceFactory,
		StaticOutputPorts: []string{redisource.OutputPortName},
	}); err != nil {
		return fmt.Errorf("adding RedisSource: %w", err)
	}

	if err := ctrl.AddNode(lifecycle.NodeSpec{
		Name:       "MQTTSink",
		ThreadName: "io",
		Factory:    sinkFactory,
		StaticInputPorts: []lifecycle.PortConfig{
			{Name: mqttsink.InputPortName, QueueSizeSamples: 64, InterthreadDynamicQueue: true},
		},
	}); err != nil {
		return fmt.Errorf("adding MQTTSink: %w", err)
	}

	ctrl.AddConnection(lifecycle.ConnectionSpec{
		FromNode: "RedisSource",
		FromPort: redisource.OutputPortName,
		ToNode:   "MQTTSink",
		ToPort:   mqttsink.InputPortName,
		Width:    32,
	})

	return nil
}
