// Package testutil provides shared test helpers for the sim and sim/cache
// test packages.
package testutil

import (
	"math"
	"path/filepath"
	"testing"
)

// CachePath returns a path for a cache file named name inside a temporary
// directory removed when the test ends. The file itself is not created.
func CachePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
