// Copyright 2025 James Ross

// Command sendevent publishes a single StatusEvent (or, with
// -destination-id, a CommandEvent) on a broker topic — a debugging and
// operational tool for manually driving a job office through its
// job:ready/job:done/stop transitions without a real pipeline.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

func main() {
	var brokerURL, topic, runID, originatorID, destinationID, status, props string
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&brokerURL, "broker", "nats://localhost:4222", "Broker URL")
	fs.StringVar(&topic, "topic", "", "Topic to publish on (required)")
	fs.StringVar(&runID, "run-id", "default", "Run id")
	fs.StringVar(&originatorID, "originator-id", "sendevent", "Originator id")
	fs.StringVar(&destinationID, "destination-id", "", "Destination id; when set, publishes a CommandEvent")
	fs.StringVar(&status, "status", "", "Status value, e.g. job:ready, job:done, stop (required)")
	fs.StringVar(&props, "props", "", "Comma-separated key=value properties")
	_ = fs.Parse(os.Args[1:])

	logger, err := obs.NewLogger("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if topic == "" || status == "" {
		logger.Fatal("--topic and --status are required")
	}

	br, err := broker.Connect(brokerURL, logger)
	if err != nil {
		logger.Fatal("connect broker", obs.Err(err))
	}
	defer br.Close()

	e := event.NewStatusEvent(runID, originatorID, event.Status(status))
	for _, pair := range strings.Split(props, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		e = e.WithProperty(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
	}

	if destinationID != "" {
		cmd := event.NewCommandEvent(runID, originatorID, destinationID, event.Status(status))
		cmd.StatusEvent = e
		if err := br.PublishCommand(topic, cmd); err != nil {
			logger.Fatal("publish command event", obs.Err(err))
		}
		return
	}

	if err := br.PublishStatus(topic, e); err != nil {
		logger.Fatal("publish status event", obs.Err(err))
	}
}
