package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cychenyin/tchannel/adapter"
	adapterredis "github.com/cychenyin/tchannel/adapter/redis"
	"github.com/cychenyin/tchannel/config"
	"github.com/cychenyin/tchannel/iox"
	"github.com/cychenyin/tchannel/log"
	"github.com/cychenyin/tchannel/metrics"
	"github.com/cychenyin/tchannel/relay"
	"github.com/cychenyin/tchannel/types"
)

// Exit codes for the relay command.
const (
	exitSuccess       = 0
	exitProtocolError = 1
	exitStreamError   = 2
	exitCanceled      = 3
)

// relayCommand returns the relay command.
func relayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Relay one framed call body between byte streams",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config file",
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Input path (\"-\" for stdin)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Output path (\"-\" for stdout)",
			},
			&cli.StringFlag{
				Name:  "call-id",
				Usage: "Call ID attached to logs and events (generated if empty)",
			},
			&cli.StringFlag{
				Name:  "service",
				Usage: "Logical service name",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "Transport label for observability",
			},
			&cli.StringFlag{
				Name:  "redis-url",
				Usage: "Publish completion events to this Redis URL",
			},
			&cli.StringFlag{
				Name:  "redis-channel",
				Usage: "Redis pub/sub channel for completion events",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the metrics summary on stdout",
			},
		},
		Action: runRelay,
	}
}

func runRelay(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("argpipe: %v", err), exitStreamError)
		}
		cfg = loaded
	}
	applyFlags(c, cfg)

	input, closeIn, err := openInput(cfg.Input)
	if err != nil {
		return cli.Exit(fmt.Sprintf("argpipe: %v", err), exitStreamError)
	}
	defer closeIn()

	output, closeOut, err := openOutput(cfg.Output)
	if err != nil {
		return cli.Exit(fmt.Sprintf("argpipe: %v", err), exitStreamError)
	}
	defer closeOut()

	callID := c.String("call-id")
	if callID == "" {
		callID = fmt.Sprintf("call-%d", time.Now().UnixNano())
	}
	meta := &types.CallMeta{
		CallID:    callID,
		Service:   cfg.Service,
		Transport: cfg.Transport,
	}

	logger := log.NewLogger(meta)
	collector := metrics.NewCollector(cfg.Transport, "")

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("argpipe: %v", err), exitStreamError)
	}
	if publisher != nil {
		defer iox.DiscardClose(publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := relay.New(input, output, logger, meta, collector, publisher)
	runErr := r.Run(ctx)

	if !c.Bool("quiet") {
		printSummary(c.App.Writer, collector)
	}

	switch {
	case runErr == nil:
		return nil
	case relay.IsProtocolError(runErr):
		return cli.Exit(fmt.Sprintf("argpipe: %v", runErr), exitProtocolError)
	case relay.IsCanceledError(runErr):
		return cli.Exit(fmt.Sprintf("argpipe: %v", runErr), exitCanceled)
	default:
		return cli.Exit(fmt.Sprintf("argpipe: %v", runErr), exitStreamError)
	}
}

// applyFlags overlays CLI flags onto the config; flags always win.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if v := c.String("input"); v != "" {
		cfg.Input = v
	}
	if v := c.String("output"); v != "" {
		cfg.Output = v
	}
	if v := c.String("service"); v != "" {
		cfg.Service = v
	}
	if v := c.String("transport"); v != "" {
		cfg.Transport = v
	}
	if v := c.String("redis-url"); v != "" {
		cfg.Adapter.Kind = "redis"
		cfg.Adapter.Redis.URL = v
	}
	if v := c.String("redis-channel"); v != "" {
		cfg.Adapter.Redis.Channel = v
	}
	if cfg.Input == "" {
		cfg.Input = "-"
	}
	if cfg.Output == "" {
		cfg.Output = "-"
	}
	if cfg.Transport == "" {
		cfg.Transport = "pipe"
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { iox.DiscardClose(f) }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { iox.DiscardClose(f) }, nil
}

func buildPublisher(cfg *config.Config) (adapter.Adapter, error) {
	if cfg.Adapter.Kind != "redis" {
		return nil, nil
	}
	return adapterredis.New(adapterredis.Config{
		URL:     cfg.Adapter.Redis.URL,
		Channel: cfg.Adapter.Redis.Channel,
		Timeout: cfg.Adapter.Redis.Timeout.Duration,
		Retries: cfg.Adapter.Redis.Retries,
	})
}

// printSummary writes the collector snapshot as JSON, one object per run.
func printSummary(w io.Writer, collector *metrics.Collector) {
	snap := collector.Snapshot()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}
