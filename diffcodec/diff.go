// Package diffcodec implements spec.md §4.4's binary diff/patch codec:
// github.com/gabstv/go-bsdiff wraps a base blob and a changed file into a
// patch, and the Snapshotter decides whether storing that patch is worth it
// relative to storing a fresh base blob, using a size heuristic.
package diffcodec

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"

	"github.com/mmp/bkv/bkerrors"
)

// DefaultMinSavingsRatio is the minimum fraction of new's size that a patch
// must save to be worth storing instead of a full base blob, per spec.md
// §4.4's 10% default.
const DefaultMinSavingsRatio = 0.10

// Diff computes a patch that turns old into new.
func Diff(old, new []byte) ([]byte, error) {
	patch, err := bsdiff.Bytes(old, new)
	if err != nil {
		return nil, fmt.Errorf("%w: bsdiff: %v", bkerrors.ErrCorrupt, err)
	}
	return patch, nil
}

// Patch applies a patch produced by Diff to old, reproducing new.
func Patch(old, patch []byte) ([]byte, error) {
	new, err := bspatch.Bytes(old, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: bspatch: %v", bkerrors.ErrCorrupt, err)
	}
	return new, nil
}

// WorthStoringAsPatch reports whether a computed patch is small enough,
// relative to the new content it encodes, to store as a diff against base
// rather than as a fresh base blob. minSavingsRatio <= 0 selects
// DefaultMinSavingsRatio.
func WorthStoringAsPatch(patchLen, newLen int, minSavingsRatio float64) bool {
	if newLen == 0 {
		return false
	}
	if minSavingsRatio <= 0 {
		minSavingsRatio = DefaultMinSavingsRatio
	}
	maxPatchLen := float64(newLen) * (1 - minSavingsRatio)
	return float64(patchLen) <= maxPatchLen
}
