// Copyright 2025 James Ross

// Command showevents subscribes to a broker topic and prints every
// matching event until interrupted — a debugging tool for watching a
// job office's traffic on a given topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

func main() {
	var brokerURL, topic, runID, status, destinationID, format string
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&brokerURL, "broker", "nats://localhost:4222", "Broker URL")
	fs.StringVar(&topic, "topic", "", "Topic to subscribe to (required)")
	fs.StringVar(&runID, "run-id", "", "Restrict to this run id (empty means any)")
	fs.StringVar(&status, "status", "", "Restrict to this status (empty means any)")
	fs.StringVar(&destinationID, "destination-id", "", "Restrict to this destination id (empty means any)")
	fs.StringVar(&format, "format", "line", "Output format: line or yaml")
	_ = fs.Parse(os.Args[1:])

	logger, err := obs.NewLogger("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if topic == "" {
		logger.Fatal("--topic is required")
	}

	br, err := broker.Connect(brokerURL, logger)
	if err != nil {
		logger.Fatal("connect broker", obs.Err(err))
	}
	defer br.Close()

	sel := event.Selector{RunID: runID, Status: event.Status(status), DestinationID: destinationID}
	sub, err := br.Subscribe(topic, sel)
	if err != nil {
		logger.Fatal("subscribe", obs.Err(err))
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if format == "yaml" {
				out, err := yaml.Marshal(e)
				if err != nil {
					logger.Warn("yaml marshal failed", obs.Err(err))
					continue
				}
				fmt.Printf("---\n%s", out)
				continue
			}
			fmt.Printf("run=%s originator=%s status=%s properties=%v datasets=%v\n",
				e.RunID, e.OriginatorID, e.Status, e.Properties, e.Datasets)
		}
	}
}
