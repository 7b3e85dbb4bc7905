package producer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesAppliesIncludeThenExclude(t *testing.T) {
	w := &Walker{cfg: Config{
		IncludeGlobs: []string{"**/*.fits"},
		ExcludeGlobs: []string{"**/*.tmp.fits"},
	}}

	assert.True(t, w.matches("raw/visit1/ccd0.fits"))
	assert.False(t, w.matches("raw/visit1/ccd0.txt"))
	assert.False(t, w.matches("raw/visit1/ccd0.tmp.fits"))
}

func TestMatchesWithNoIncludeGlobsMatchesEverythingNotExcluded(t *testing.T) {
	w := &Walker{cfg: Config{ExcludeGlobs: []string{"**/*.log"}}}

	assert.True(t, w.matches("anything.fits"))
	assert.False(t, w.matches("run.log"))
}

func TestBoolString(t *testing.T) {
	assert.Equal(t, "true", boolString(true))
	assert.Equal(t, "false", boolString(false))
}
