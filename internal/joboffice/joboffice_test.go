package joboffice

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
)

func newTestOffice(t *testing.T) (*JobOffice, *blackboard.Blackboard) {
	t.Helper()
	bb, err := blackboard.Open(filepath.Join(t.TempDir(), "bb"))
	require.NoError(t, err)
	return &JobOffice{bb: bb, cfg: Config{HighWatermark: 10}}, bb
}

func inProgressJob(t *testing.T, bb *blackboard.Blackboard, retries int) blackboard.Item {
	t.Helper()
	var moved blackboard.Item
	err := bb.Transaction(func() error {
		it := blackboard.NewJobItem("Job-1", dataset.New("Job"), nil, nil, nil, retries)
		it = it.WithPipelineID("7")
		moved = bb.JobsInProgress.Append(it)
		return nil
	})
	require.NoError(t, err)
	return moved
}

// TestApplyJobDoneSuccessMovesToJobsDone checks a successful job:done moves
// the job from jobsInProgress to jobsDone marked succeeded.
func TestApplyJobDoneSuccessMovesToJobsDone(t *testing.T) {
	jo, bb := newTestOffice(t)
	inProgressJob(t, bb, 1)

	require.NoError(t, jo.applyJobDone("7", true))

	assert.Equal(t, 0, bb.JobsInProgress.Length())
	require.Equal(t, 1, bb.JobsDone.Length())
	job, _ := bb.JobsDone.Get(0)
	assert.True(t, job.Succeeded())
}

// TestApplyJobDoneRetriesThenFails checks that on failure the job is
// rescheduled up to retriesMax times, then lands in jobsDone marked
// failed.
func TestApplyJobDoneRetriesThenFails(t *testing.T) {
	jo, bb := newTestOffice(t)
	inProgressJob(t, bb, 1)

	require.NoError(t, jo.applyJobDone("7", false))
	assert.Equal(t, 0, bb.JobsInProgress.Length())
	require.Equal(t, 1, bb.JobsAvailable.Length())
	assert.Equal(t, 0, bb.JobsDone.Length())

	requeued, _ := bb.JobsAvailable.Get(0)
	err := bb.Transaction(func() error {
		idx := bb.JobsAvailable.IndexOf(requeued.Filename)
		it, perr := bb.JobsAvailable.PopAt(idx)
		if perr != nil {
			return perr
		}
		it = it.WithPipelineID("7")
		bb.JobsInProgress.Append(it)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, jo.applyJobDone("7", false))
	assert.Equal(t, 0, bb.JobsInProgress.Length())
	assert.Equal(t, 0, bb.JobsAvailable.Length())
	require.Equal(t, 1, bb.JobsDone.Length())
	job, _ := bb.JobsDone.Get(0)
	assert.False(t, job.Succeeded())
}

// TestObserveStatusOfJobsHaltsOnDrain checks that once finalDatasetSent and
// both jobsInProgress/jobsAvailable are empty, halt is set within one
// iteration.
func TestObserveStatusOfJobsHaltsOnDrain(t *testing.T) {
	jo, bb := newTestOffice(t)
	inProgressJob(t, bb, 0)

	jo.finalDatasetSent.Store(true)
	jo.observeStatusOfJobs()
	assert.False(t, jo.halt.Load(), "must not halt while jobsInProgress is non-empty")

	require.NoError(t, jo.applyJobDone("7", true))
	jo.observeStatusOfJobs()
	assert.True(t, jo.halt.Load())
}

func TestObserveStatusOfJobsDoesNotHaltWithoutFinalDataset(t *testing.T) {
	jo, _ := newTestOffice(t)
	jo.observeStatusOfJobs()
	assert.False(t, jo.halt.Load())
}
