package reaper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSummaryDisabledWithEmptyExpr(t *testing.T) {
	s, err := NewSummary(nil, zap.NewNop(), "")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewSummaryRejectsInvalidExpr(t *testing.T) {
	_, err := NewSummary(nil, zap.NewNop(), "not a cron expression")
	assert.Error(t, err)
}

func TestNewSummaryAcceptsStandardExpr(t *testing.T) {
	bb := newTestBB(t)
	s, err := NewSummary(bb, zap.NewNop(), "0 * * * *")
	require.NoError(t, err)
	require.NotNil(t, s)
	s.logOnce()
}
