package diffcodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffPatchRoundTrip(t *testing.T) {
	old := bytes.Repeat([]byte("the quick brown fox "), 500)
	changed := append([]byte{}, old...)
	changed[10] = 'X'
	changed = append(changed, []byte("a small appended tail")...)

	patch, err := Diff(old, changed)
	require.NoError(t, err)

	got, err := Patch(old, patch)
	require.NoError(t, err)
	assert.Equal(t, changed, got)
}

func TestWorthStoringAsPatchPrefersSmallPatch(t *testing.T) {
	assert.True(t, WorthStoringAsPatch(10, 1000, 0))
	assert.False(t, WorthStoringAsPatch(950, 1000, 0))
}

func TestWorthStoringAsPatchHandlesEmptyNew(t *testing.T) {
	assert.False(t, WorthStoringAsPatch(0, 0, 0))
}

func TestWorthStoringAsPatchCustomRatio(t *testing.T) {
	// A patch that's 60% of new's size doesn't meet a 50% savings bar...
	assert.False(t, WorthStoringAsPatch(600, 1000, 0.5))
	// ...but does meet a lenient 10% bar.
	assert.True(t, WorthStoringAsPatch(600, 1000, 0.1))
}
