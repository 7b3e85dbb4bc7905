package blackboard

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
)

func newTestBlackboard(t *testing.T) *Blackboard {
	t.Helper()
	root := t.TempDir()
	bb, err := Open(filepath.Join(root, "blackboard"))
	require.NoError(t, err)
	return bb
}

func jobFixture(t *testing.T, bb *Blackboard) Item {
	t.Helper()
	var moved Item
	err := bb.Transaction(func() error {
		it := NewJobItem("Job-1", dataset.New("Job").WithID("name", "Job-1"), nil, nil, nil, 2)
		moved = bb.JobsPossible.Append(it)
		return nil
	})
	require.NoError(t, err)
	return moved
}

// TestCrossQueueMoveNeverBothNeverNeither checks that after
// jobsPossible -> jobsAvailable the item is in exactly one of the two
// queues, never in both, never in neither.
func TestCrossQueueMoveNeverBothNeverNeither(t *testing.T) {
	bb := newTestBlackboard(t)
	job := jobFixture(t, bb)

	moved, err := bb.MakeJobAvailable(job)
	require.NoError(t, err)

	assert.Equal(t, -1, bb.JobsPossible.IndexOf(job.Filename))
	assert.GreaterOrEqual(t, bb.JobsAvailable.IndexOf(moved.Filename), 0)
	assert.Equal(t, 0, bb.JobsPossible.Length())
	assert.Equal(t, 1, bb.JobsAvailable.Length())
}

// TestTransactionAbortLeavesBothQueuesUntouched covers the abort path
// across a cross-queue move: fn failing mid-scope must leave every queue's
// mem (and disk, since nothing was ever replayed) as it was before the
// transaction began.
func TestTransactionAbortLeavesBothQueuesUntouched(t *testing.T) {
	bb := newTestBlackboard(t)
	job := jobFixture(t, bb)

	err := bb.Transaction(func() error {
		idx := bb.JobsPossible.IndexOf(job.Filename)
		it, perr := bb.JobsPossible.PopAt(idx)
		require.NoError(t, perr)
		bb.JobsAvailable.Append(it)
		return assert.AnError
	})
	require.Error(t, err)

	assert.Equal(t, 1, bb.JobsPossible.Length())
	assert.Equal(t, 0, bb.JobsAvailable.Length())
}

// TestCrossQueueTransactionRollsBackAllQueuesOnPartialFailure is the
// regression test for the original commit bug: if a move touches two
// queues and the second queue's disk replay fails, the first queue's
// otherwise-successful replay must also be rolled back, so disk and mem
// agree across the whole group, never leaving one half of the move durable
// while the other was undone.
func TestCrossQueueTransactionRollsBackAllQueuesOnPartialFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permission bits are not enforced the same way on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory write permission checks")
	}

	bb := newTestBlackboard(t)
	job := jobFixture(t, bb)
	beforePossible := bb.JobsPossible.Iterate()

	availableDir := filepath.Join(bb.persistDir, "jobsAvailable")
	require.NoError(t, os.Chmod(availableDir, 0o500))
	defer os.Chmod(availableDir, 0o755)

	err := bb.Transaction(func() error {
		idx := bb.JobsPossible.IndexOf(job.Filename)
		it, perr := bb.JobsPossible.PopAt(idx)
		require.NoError(t, perr)
		bb.JobsAvailable.Append(it)
		return nil
	})
	require.Error(t, err)

	assert.Equal(t, beforePossible, bb.JobsPossible.Iterate())
	assert.Equal(t, 0, bb.JobsAvailable.Length())

	require.NoError(t, os.Chmod(availableDir, 0o755))
	reopened, rerr := Open(bb.persistDir)
	require.NoError(t, rerr)
	assert.Equal(t, 1, reopened.JobsPossible.Length())
	assert.Equal(t, 0, reopened.JobsAvailable.Length())
}

// TestTransactionRollbackOnReadOnlyPersistDir checks that when the
// persistence directory becomes read-only before a commit, the cross-queue
// move fails, and both source and destination queues retain their
// pre-transaction contents in memory and on disk.
func TestTransactionRollbackOnReadOnlyPersistDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permission bits are not enforced the same way on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory write permission checks")
	}

	bb := newTestBlackboard(t)
	job := jobFixture(t, bb)

	possibleDir := filepath.Join(bb.persistDir, "jobsPossible")
	availableDir := filepath.Join(bb.persistDir, "jobsAvailable")
	require.NoError(t, os.Chmod(possibleDir, 0o500))
	require.NoError(t, os.Chmod(availableDir, 0o500))
	defer os.Chmod(possibleDir, 0o755)
	defer os.Chmod(availableDir, 0o755)

	_, err := bb.MakeJobAvailable(job)
	require.Error(t, err)

	require.NoError(t, os.Chmod(possibleDir, 0o755))
	require.NoError(t, os.Chmod(availableDir, 0o755))
	assert.Equal(t, 1, bb.JobsPossible.Length())
	assert.Equal(t, 0, bb.JobsAvailable.Length())

	reopened, rerr := Open(bb.persistDir)
	require.NoError(t, rerr)
	assert.Equal(t, 1, reopened.JobsPossible.Length())
	assert.Equal(t, 0, reopened.JobsAvailable.Length())
}
