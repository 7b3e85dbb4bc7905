// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

// Summary logs a snapshot of every Blackboard queue depth on a cron
// schedule, for operators who want a periodic line in the log rather
// than having to query the metrics endpoint.
type Summary struct {
	bb       *blackboard.Blackboard
	log      *zap.Logger
	schedule cron.Schedule
}

// NewSummary parses expr (the same syntax accepted by observability.summary_cron)
// and returns a Summary ready to Run. An empty expr disables the summary.
func NewSummary(bb *blackboard.Blackboard, log *zap.Logger, expr string) (*Summary, error) {
	if expr == "" {
		return nil, nil
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Summary{bb: bb, log: log, schedule: schedule}, nil
}

// Run blocks, logging a queue-depth summary at each scheduled tick until
// ctx is cancelled.
func (s *Summary) Run(ctx context.Context) {
	next := s.schedule.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.logOnce()
			next = s.schedule.Next(time.Now())
		}
	}
}

func (s *Summary) logOnce() {
	named := map[string]*blackboard.Queue{
		"dataAvailable": s.bb.DataAvailable, "jobsPossible": s.bb.JobsPossible, "jobsAvailable": s.bb.JobsAvailable,
		"jobsInProgress": s.bb.JobsInProgress, "jobsDone": s.bb.JobsDone, "pipelinesReady": s.bb.PipelinesReady,
	}
	fields := make([]zap.Field, 0, len(named))
	for name, q := range named {
		depth := q.Length()
		fields = append(fields, zap.Int(name, depth))
		obs.BlackboardQueueDepth.WithLabelValues(name).Set(float64(depth))
	}
	s.log.Info("blackboard queue depth summary", fields...)
}
