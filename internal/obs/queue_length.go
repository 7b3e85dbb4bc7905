// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/config"
)

// StartQueueLengthUpdater samples each Blackboard queue's depth into
// BlackboardQueueDepth on cfg.Observability.QueueSampleInterval.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, bb *blackboard.Blackboard) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}

	named := map[string]*blackboard.Queue{
		"dataAvailable":  bb.DataAvailable,
		"jobsPossible":   bb.JobsPossible,
		"jobsAvailable":  bb.JobsAvailable,
		"jobsInProgress": bb.JobsInProgress,
		"jobsDone":       bb.JobsDone,
		"pipelinesReady": bb.PipelinesReady,
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, q := range named {
					BlackboardQueueDepth.WithLabelValues(name).Set(float64(q.Length()))
				}
			}
		}
	}()
}
