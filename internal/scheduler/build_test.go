package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/ctrl-joboffice/internal/config"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/idfilter"
)

func TestBuildTriggersUnconstrainedStringFilter(t *testing.T) {
	specs := []config.TriggerSpec{
		{DatasetType: "PostISR", ID: []idfilter.Config{{Name: "visit"}}},
	}
	triggers, err := BuildTriggers(specs)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	_, ok := triggers[0].Recognize(dataset.New("PostISR").WithID("visit", "anything"))
	assert.True(t, ok)
	assert.False(t, triggers[0].IsClosed())
}

func TestBuildTriggersClosedIntegerFilterFromConfig(t *testing.T) {
	min, lim := 0, 9
	specs := []config.TriggerSpec{
		{DatasetType: "PostISR", ID: []idfilter.Config{
			{ClassName: "Integer", Name: "ccd", Min: &min, Lim: &lim},
		}},
	}
	triggers, err := BuildTriggers(specs)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.True(t, triggers[0].IsClosed())

	_, ok := triggers[0].Recognize(dataset.New("PostISR").WithID("ccd", 5))
	assert.True(t, ok)
	_, ok = triggers[0].Recognize(dataset.New("PostISR").WithID("ccd", 99))
	assert.False(t, ok)

	out, err := triggers[0].ListDatasets(dataset.New("PostISR"), true)
	require.NoError(t, err)
	assert.Len(t, out, lim-min)
}

func TestBuildTriggersPropagatesFromConfigError(t *testing.T) {
	specs := []config.TriggerSpec{
		{DatasetType: "PostISR", ID: []idfilter.Config{
			{ClassName: "bogus", Name: "ccd"},
		}},
	}
	_, err := BuildTriggers(specs)
	assert.Error(t, err)
}
