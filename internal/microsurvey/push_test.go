package microsurvey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var chicagoQuiet = quietWindow{startHour: 22, startMin: 30, endHour: 7, endMin: 0}

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestInQuietWindow_InsideNightWindow(t *testing.T) {
	loc := mustLoc(t)
	t1 := time.Date(2026, 1, 1, 23, 0, 0, 0, loc)
	require.True(t, inQuietWindow(t1, loc, chicagoQuiet))
}

func TestInQuietWindow_InsideEarlyMorning(t *testing.T) {
	loc := mustLoc(t)
	t1 := time.Date(2026, 1, 1, 6, 0, 0, 0, loc)
	require.True(t, inQuietWindow(t1, loc, chicagoQuiet))
}

func TestInQuietWindow_OutsideDaytime(t *testing.T) {
	loc := mustLoc(t)
	t1 := time.Date(2026, 1, 1, 14, 0, 0, 0, loc)
	require.False(t, inQuietWindow(t1, loc, chicagoQuiet))
}

func TestClampOutsideQuietWindow_PushesToWindowEnd(t *testing.T) {
	loc := mustLoc(t)
	t1 := time.Date(2026, 1, 1, 23, 30, 0, 0, loc)
	clamped := clampOutsideQuietWindow(t1, loc, chicagoQuiet)
	require.False(t, inQuietWindow(clamped, loc, chicagoQuiet))
	require.Equal(t, 7, clamped.In(loc).Hour())
}

func TestClampOutsideQuietWindow_NoOpWhenAlreadyOutside(t *testing.T) {
	loc := mustLoc(t)
	t1 := time.Date(2026, 1, 1, 14, 0, 0, 0, loc)
	require.Equal(t, t1, clampOutsideQuietWindow(t1, loc, chicagoQuiet))
}

func TestValidPush_RejectsLessThan30MinLead(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, loc)
	require.False(t, validPush(now.Add(10*time.Minute), now, loc, chicagoQuiet))
}

func TestValidPush_RejectsInsideQuietWindow(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 1, 21, 0, 0, 0, loc)
	require.False(t, validPush(now.Add(2*time.Hour), now, loc, chicagoQuiet))
}

func TestValidPush_AcceptsValidProposal(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, loc)
	require.True(t, validPush(now.Add(time.Hour), now, loc, chicagoQuiet))
}

func TestParseClock_DefaultsOnInvalid(t *testing.T) {
	h, m := parseClock("garbage", 22, 30)
	require.Equal(t, 22, h)
	require.Equal(t, 30, m)
}

func TestParseClock_ParsesValid(t *testing.T) {
	h, m := parseClock("07:05", 0, 0)
	require.Equal(t, 7, h)
	require.Equal(t, 5, m)
}
