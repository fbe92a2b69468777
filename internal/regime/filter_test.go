package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func points(closes ...float64) []Point {
	pts := make([]Point, len(closes))
	for i, c := range closes {
		pts[i] = Point{Date: day(i), Close: c}
	}
	return pts
}

func TestNewFilterValidatesConfig(t *testing.T) {
	_, err := NewFilter(Config{MAWindows: nil, ConfirmDays: 3})
	assert.Error(t, err)

	_, err = NewFilter(Config{MAWindows: []int{3, -1}, ConfirmDays: 3})
	assert.Error(t, err)

	_, err = NewFilter(Config{MAWindows: []int{3}, ConfirmDays: 0})
	assert.Error(t, err)

	_, err = NewFilter(DefaultConfig())
	assert.NoError(t, err)
}

func TestComputeConfirmsBullAfterStreak(t *testing.T) {
	f, err := NewFilter(Config{MAWindows: []int{2}, ConfirmDays: 2})
	require.NoError(t, err)

	sig := f.Compute(points(10, 20, 30, 40))

	assert.Equal(t, Bear, sig.At(day(0)), "first close equals its own average")
	assert.Equal(t, Bear, sig.At(day(1)), "bullish but unconfirmed")
	assert.Equal(t, Bull, sig.At(day(2)), "second consecutive bullish day")
	assert.Equal(t, Bull, sig.At(day(3)))
}

func TestComputeBearishDayResetsStreak(t *testing.T) {
	f, err := NewFilter(Config{MAWindows: []int{2}, ConfirmDays: 2})
	require.NoError(t, err)

	sig := f.Compute(points(10, 20, 30, 5, 50, 60, 70))

	assert.Equal(t, Bull, sig.At(day(2)))
	assert.Equal(t, Bear, sig.At(day(3)), "drop below indicator resets")
	assert.Equal(t, Bear, sig.At(day(4)), "streak restarts from one")
	assert.Equal(t, Bull, sig.At(day(5)))
	assert.Equal(t, Bull, sig.At(day(6)))
}

func TestComputeSortsUnorderedInput(t *testing.T) {
	f, err := NewFilter(Config{MAWindows: []int{2}, ConfirmDays: 2})
	require.NoError(t, err)

	pts := points(10, 20, 30, 40)
	pts[0], pts[3] = pts[3], pts[0]

	sig := f.Compute(pts)
	assert.Equal(t, Bull, sig.At(day(3)))
}

func TestSignalAtMissingDateIsNone(t *testing.T) {
	f, err := NewFilter(DefaultConfig())
	require.NoError(t, err)

	sig := f.Compute(nil)
	assert.Empty(t, sig)
	assert.Equal(t, None, sig.At(day(0)), "missing date never gates")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "bear", Bear.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "bull", Bull.String())
}

func TestReturns(t *testing.T) {
	got := Returns(points(100, 110, 99))
	require.Len(t, got, 2)
	assert.InDelta(t, 10.0, got[0], 1e-9)
	assert.InDelta(t, -10.0, got[1], 1e-9)

	assert.Nil(t, Returns(points(100)))

	withZero := Returns(points(0, 50))
	require.Len(t, withZero, 1)
	assert.Zero(t, withZero[0])
}
