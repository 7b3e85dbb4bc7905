package idfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerClosedRangeRecognize(t *testing.T) {
	min, lim := 0, 16
	f := NewInteger("amp", &min, &lim, nil, true)

	for v := 0; v < 16; v++ {
		got, ok := f.Recognize(v)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
	_, ok := f.Recognize(16)
	assert.False(t, ok)
	_, ok = f.Recognize(-1)
	assert.False(t, ok)
}

func TestIntegerRecognizeClosureLaw(t *testing.T) {
	min, lim := 5, 10
	f := NewInteger("visit", &min, &lim, []int{100, 101}, true)

	for v := -5; v < 120; v++ {
		got, ok := f.Recognize(v)
		inRange := v >= 5 && v < 10
		inValues := v == 100 || v == 101
		if inRange || inValues {
			require.True(t, ok, "expected %d to be recognized", v)
			assert.Equal(t, v, got)
		} else {
			assert.False(t, ok, "expected %d to be rejected", v)
		}
	}
}

func TestIntegerAllowedValuesClosed(t *testing.T) {
	min, lim := 0, 3
	f := NewInteger("ccd", &min, &lim, []int{10}, true)
	vals, err := f.AllowedValues()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{0, 1, 2, 10}, vals)
}

func TestIntegerHalfRangeIsNotStatic(t *testing.T) {
	min := 5
	f := NewInteger("visit", &min, nil, nil, true)
	assert.False(t, f.HasStaticValueSet())
	_, err := f.AllowedValues()
	assert.ErrorIs(t, err, ErrNotClosed)

	got, ok := f.Recognize(100)
	assert.True(t, ok)
	assert.Equal(t, 100, got)
	_, ok = f.Recognize(4)
	assert.False(t, ok)
}

func TestIntegerUnconstrainedIsNotStatic(t *testing.T) {
	f := NewInteger("visit", nil, nil, nil, true)
	assert.False(t, f.HasStaticValueSet())
	assert.True(t, f.IsUnconstrained())
	_, ok := f.Recognize(-99)
	assert.True(t, ok)
}

func TestStringClosedSet(t *testing.T) {
	f := NewString("filter", []string{"g", "r", "i"}, true)
	got, ok := f.Recognize("r")
	require.True(t, ok)
	assert.Equal(t, "r", got)

	_, ok = f.Recognize("z")
	assert.False(t, ok)

	vals, err := f.AllowedValues()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"g", "i", "r"}, vals)
}

func TestStringUnconstrained(t *testing.T) {
	f := NewString("camera", nil, true)
	assert.False(t, f.HasStaticValueSet())
	got, ok := f.Recognize("anything")
	assert.True(t, ok)
	assert.Equal(t, "anything", got)
}

func TestFromConfigInfersClassName(t *testing.T) {
	min, lim := 0, 9
	f, err := FromConfig(Config{Name: "ccd", Min: &min, Lim: &lim})
	require.NoError(t, err)
	_, ok := f.(*IntegerIDFilter)
	assert.True(t, ok)

	f2, err := FromConfig(Config{Name: "filter", Values: []interface{}{"g", "r"}})
	require.NoError(t, err)
	_, ok = f2.(*StringIDFilter)
	assert.True(t, ok)
}

func TestFromConfigUnknownClassName(t *testing.T) {
	_, err := FromConfig(Config{ClassName: "Bogus", Name: "x"})
	assert.Error(t, err)
}
