package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/triggerhandler"
)

func TestDataProductItemRoundTrip(t *testing.T) {
	ds := dataset.New("PostISR").WithID("visit", 88).WithID("amp", 3)
	it := NewDataProductItem(ds, true)
	it.Filename = "data-1.rec"

	decoded := DecodeItem(it.Filename, it.Encode())
	assert.Equal(t, KindDataProduct, decoded.Kind)
	assert.True(t, decoded.Succeeded())
	assert.True(t, ds.Equal(decoded.Dataset()))
}

func TestJobItemTriggerHandlerRoundTrip(t *testing.T) {
	var needed []dataset.Dataset
	for i := 0; i < 4; i++ {
		needed = append(needed, dataset.New("PostISR").WithID("amp", i))
	}
	th := triggerhandler.New(needed)
	th.AddDataset(dataset.New("PostISR").WithID("amp", 0))

	identity := dataset.New("Job").WithID("name", "Job-1")
	it := NewJobItem("Job-1", identity, needed, nil, th, 2)
	it.Filename = "job-1.rec"

	decoded := DecodeItem(it.Filename, it.Encode())
	assert.Equal(t, "Job-1", decoded.Name())
	assert.Equal(t, 2, decoded.RetriesRemaining())
	assert.False(t, decoded.IsReady())
	assert.Equal(t, 3, decoded.TriggerHandler().NeededCount())
	assert.Len(t, decoded.Inputs(), 4)
}

func TestPipelineItemRoundTrip(t *testing.T) {
	it := NewPipelineItem("AssemblyPipeline", "run-42", "7", 1700000000)
	it.Filename = "pipe-1.rec"

	decoded := DecodeItem(it.Filename, it.Encode())
	assert.Equal(t, KindPipeline, decoded.Kind)
	assert.Equal(t, "AssemblyPipeline", decoded.PipelineName())
	assert.Equal(t, "run-42", decoded.RunID())
	assert.Equal(t, "7", decoded.OriginatorID())
	assert.Equal(t, int64(1700000000), decoded.ReceivedAt())
}

func TestWithHelpersDoNotMutateOriginal(t *testing.T) {
	it := NewDataProductItem(dataset.New("PostISR"), false)
	updated := it.WithSucceeded(true)
	assert.False(t, it.Succeeded())
	assert.True(t, updated.Succeeded())
}
