// Copyright 2025 James Ross

// Package reaper periodically evicts stale entries from the Blackboard's
// pipelinesReady queue: a worker pipeline that announced readiness but was
// never matched to an available job within its TTL is assumed gone (crashed,
// network-partitioned, or simply retired) and its entry is dropped so it
// doesn't block job allocation forever.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

// Reaper sweeps bb.PipelinesReady on an interval, evicting entries whose
// readiness announcement is older than ttl.
type Reaper struct {
	bb       *blackboard.Blackboard
	log      *zap.Logger
	ttl      time.Duration
	interval time.Duration
}

// New creates a Reaper. ttl is how long a pipelinesReady entry may sit
// unmatched before eviction; interval is how often the sweep runs.
func New(bb *blackboard.Blackboard, log *zap.Logger, ttl, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reaper{bb: bb, log: log, ttl: ttl, interval: interval}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweepOnce(time.Now()); err != nil {
				r.log.Warn("pipelinesReady sweep failed", zap.Error(err))
			}
		}
	}
}

// sweepOnce evicts every pipelinesReady entry older than ttl as of now,
// within one transaction.
func (r *Reaper) sweepOnce(now time.Time) error {
	if r.ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-r.ttl).Unix()

	return r.bb.Transaction(func() error {
		for {
			stale := -1
			for _, it := range r.bb.PipelinesReady.Iterate() {
				if it.ReceivedAt() > 0 && it.ReceivedAt() < cutoff {
					stale = r.bb.PipelinesReady.IndexOf(it.Filename)
					break
				}
			}
			if stale < 0 {
				return nil
			}
			evicted, err := r.bb.PipelinesReady.PopAt(stale)
			if err != nil {
				return err
			}
			obs.ReaperEvicted.Inc()
			r.log.Warn("evicted stale pipelinesReady entry",
				zap.String("pipeline", evicted.PipelineName()),
				zap.String("originatorId", evicted.OriginatorID()))
		}
	})
}
