// Copyright 2025 James Ross

// Package cache mirrors Blackboard queue depths into
// Redis as a best-effort read replica for external dashboards — the
// filesystem-backed Blackboard itself remains the only durable, authoritative
// store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
)

// Mirror writes queue snapshots to Redis under a namespaced key set. A nil
// client makes every method a no-op, so callers can wire Mirror
// unconditionally and let config.Cache.Enabled gate it at construction.
type Mirror struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// New returns a Mirror. client may be nil (cache mirror disabled).
func New(client *redis.Client, namespace string, ttl time.Duration) *Mirror {
	if namespace == "" {
		namespace = "joboffice:blackboard"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Mirror{client: client, namespace: namespace, ttl: ttl}
}

func (m *Mirror) depthKey(queue string) string {
	return fmt.Sprintf("%s:depth:%s", m.namespace, queue)
}

// SyncDepths writes the current item count of each of bb's six named
// queues. Redis errors are returned but are not fatal to the caller — the
// mirror is advisory, not a source of truth.
func (m *Mirror) SyncDepths(ctx context.Context, bb *blackboard.Blackboard) error {
	if m.client == nil {
		return nil
	}
	named := map[string]*blackboard.Queue{
		"dataAvailable":  bb.DataAvailable,
		"jobsPossible":   bb.JobsPossible,
		"jobsAvailable":  bb.JobsAvailable,
		"jobsInProgress": bb.JobsInProgress,
		"jobsDone":       bb.JobsDone,
		"pipelinesReady": bb.PipelinesReady,
	}
	pipe := m.client.Pipeline()
	for name, q := range named {
		pipe.Set(ctx, m.depthKey(name), q.Length(), m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Depth reads back a previously mirrored queue depth, for callers (e.g. a
// read-only dashboard) that have no direct Blackboard handle.
func (m *Mirror) Depth(ctx context.Context, queue string) (int64, error) {
	if m.client == nil {
		return 0, nil
	}
	return m.client.Get(ctx, m.depthKey(queue)).Int64()
}
