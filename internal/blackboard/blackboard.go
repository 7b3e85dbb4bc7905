// Package blackboard implements the Blackboard: a persistent, transactional,
// multi-queue state store mediating every scheduler/dispatcher mutation.
// Grounded in the original LSST ctrl_sched blackboard package
// (Blackboard.py, blackboard/queue.py, blackboard/item.py).
package blackboard

import (
	"os"
	"path/filepath"
	"sync"
)

// Blackboard owns six named queues and the single lock shared across all
// of them, so that a move spanning two queues is atomic: the lock is taken
// once by Transaction, both queues buffer their mutations in memory, and
// either both commit to disk or both roll back.
type Blackboard struct {
	lock sync.Mutex

	persistDir string

	DataAvailable  *Queue
	JobsPossible   *Queue
	JobsAvailable  *Queue
	JobsInProgress *Queue
	JobsDone       *Queue
	PipelinesReady *Queue
}

// Open creates (if needed) the persistence directory tree and loads the
// current on-disk state of all six queues.
func Open(persistDir string) (*Blackboard, error) {
	parent := filepath.Dir(persistDir)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return nil, &PersistError{Msg: "parent directory not found: " + parent}
	}
	if info, err := os.Stat(persistDir); err == nil && !info.IsDir() {
		return nil, &AccessError{Msg: "queue directory is not a directory: " + persistDir}
	}
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return nil, &PersistError{Msg: "create persistence dir", Wrapped: err}
	}

	bb := &Blackboard{persistDir: persistDir}

	names := []struct {
		field *(*Queue)
		dir   string
	}{
		{&bb.DataAvailable, "dataAvailable"},
		{&bb.JobsPossible, "jobsPossible"},
		{&bb.JobsAvailable, "jobsAvailable"},
		{&bb.JobsInProgress, "jobsInProgress"},
		{&bb.JobsDone, "jobsDone"},
		{&bb.PipelinesReady, "pipelinesReady"},
	}
	for _, n := range names {
		q, err := NewQueue(n.dir, filepath.Join(persistDir, n.dir), &bb.lock)
		if err != nil {
			return nil, err
		}
		*n.field = q
	}
	return bb, nil
}

func (bb *Blackboard) allQueues() []*Queue {
	return []*Queue{bb.DataAvailable, bb.JobsPossible, bb.JobsAvailable, bb.JobsInProgress, bb.JobsDone, bb.PipelinesReady}
}

// Transaction runs fn with the Blackboard-wide lock held. If fn returns an
// error, every queue touched during fn has its in-memory mutations rolled
// back (disk was never written).
//
// If fn succeeds, every touched queue is committed in two phases so the
// group of queues behaves as one atomic unit (a move spanning two queues
// is observed in both or neither): first every touched queue snapshots
// its on-disk state and
// replays its pending log against disk; only once ALL touched queues have
// replayed successfully does any of them discard its snapshot and drop its
// pending log. If any queue's replay fails, every queue that already
// snapshotted — including ones whose replay already succeeded — has its
// disk state restored from that snapshot and its in-memory state rolled
// back, so a failure on queue N never leaves queue M<N's half of the move
// durable on disk.
func (bb *Blackboard) Transaction(fn func() error) error {
	bb.lock.Lock()
	defer bb.lock.Unlock()

	if err := fn(); err != nil {
		for _, q := range bb.allQueues() {
			q.abort()
		}
		return err
	}

	var touched []*Queue
	for _, q := range bb.allQueues() {
		if q.touched() {
			touched = append(touched, q)
		}
	}
	if len(touched) == 0 {
		return nil
	}

	snapshots := make(map[*Queue]string, len(touched))
	var prepareErr error
	for _, q := range touched {
		snap, err := q.snapshotForCommit()
		if err != nil {
			prepareErr = err
			break
		}
		snapshots[q] = snap
	}
	if prepareErr != nil {
		bb.rollbackGroup(snapshots)
		for _, q := range touched {
			if _, ok := snapshots[q]; !ok {
				q.abort()
			}
		}
		return &PersistError{Msg: "commit snapshot failed", Wrapped: prepareErr}
	}

	var replayErr error
	for _, q := range touched {
		if err := q.replay(); err != nil {
			replayErr = err
			break
		}
	}

	if replayErr != nil {
		if err := bb.rollbackGroup(snapshots); err != nil {
			return &RollbackError{Original: replayErr, Wrapped: err}
		}
		return &PersistError{Msg: "commit failed, disk restored", Wrapped: replayErr}
	}

	for _, q := range touched {
		q.finalizeCommit()
		removeSnapshot(snapshots[q])
	}
	return nil
}

// rollbackGroup restores disk and memory for every queue that holds a
// pre-commit snapshot. Used both when preparing snapshots fails partway
// through the touched-queue list and when a later queue's replay fails
// after earlier queues already replayed successfully.
func (bb *Blackboard) rollbackGroup(snapshots map[*Queue]string) error {
	var firstErr error
	for q, snap := range snapshots {
		if err := q.rollbackCommit(snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MakeJobAvailable moves job from jobsPossible to jobsAvailable. job must
// be present in jobsPossible (matched by Filename) or this returns
// UpdateError.
func (bb *Blackboard) MakeJobAvailable(job Item) (Item, error) {
	var moved Item
	err := bb.Transaction(func() error {
		idx := bb.JobsPossible.IndexOf(job.Filename)
		if idx < 0 {
			return &UpdateError{Msg: "job not found in jobsPossible: " + job.Name()}
		}
		it, err := bb.JobsPossible.PopAt(idx)
		if err != nil {
			return err
		}
		moved = bb.JobsAvailable.Append(it)
		return nil
	})
	return moved, err
}

// AllocateNextJob moves the job at the head of jobsAvailable to
// jobsInProgress, tagging it with pipelineID. Returns EmptyQueueError if
// jobsAvailable is empty.
func (bb *Blackboard) AllocateNextJob(pipelineID string) (Item, error) {
	var moved Item
	err := bb.Transaction(func() error {
		it, err := bb.JobsAvailable.Pop()
		if err != nil {
			return err
		}
		it = it.WithPipelineID(pipelineID)
		moved = bb.JobsInProgress.Append(it)
		return nil
	})
	return moved, err
}

// RescheduleJob moves job from jobsInProgress back to jobsAvailable (a
// retry). job must be present in jobsInProgress.
func (bb *Blackboard) RescheduleJob(job Item) (Item, error) {
	var moved Item
	err := bb.Transaction(func() error {
		idx := bb.JobsInProgress.IndexOf(job.Filename)
		if idx < 0 {
			return &UpdateError{Msg: "job not found in jobsInProgress: " + job.Name()}
		}
		it, err := bb.JobsInProgress.PopAt(idx)
		if err != nil {
			return err
		}
		moved = bb.JobsAvailable.Append(it)
		return nil
	})
	return moved, err
}

// MarkJobDone moves job from jobsInProgress to jobsDone, recording success.
// job must be present in jobsInProgress.
func (bb *Blackboard) MarkJobDone(job Item, success bool) (Item, error) {
	var moved Item
	err := bb.Transaction(func() error {
		idx := bb.JobsInProgress.IndexOf(job.Filename)
		if idx < 0 {
			return &UpdateError{Msg: "job not found in jobsInProgress: " + job.Name()}
		}
		it, err := bb.JobsInProgress.PopAt(idx)
		if err != nil {
			return err
		}
		it = it.WithSucceeded(success)
		moved = bb.JobsDone.Append(it)
		return nil
	})
	return moved, err
}
