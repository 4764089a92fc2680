package trajectory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/docstore"
)

func TestHaversineMeters_ZeroForIdenticalPoint(t *testing.T) {
	require.InDelta(t, 0, haversineMeters(30.0, -95.0, 30.0, -95.0), 0.001)
}

func TestHaversineMeters_KnownDistance(t *testing.T) {
	// Roughly 111.3km per degree of latitude with a 6378.137km radius.
	d := haversineMeters(0, 0, 1, 0)
	require.InDelta(t, 111319, d, 500)
}

func TestVerifyGroup_WithinProximityAndMoving(t *testing.T) {
	a := []docstore.TrajectoryPoint{{Latitude: 30.0, Longitude: -95.0, Speed: 5}}
	b := []docstore.TrajectoryPoint{{Latitude: 30.0005, Longitude: -95.0, Speed: 3}}
	require.Equal(t, 1, verifyGroup(a, b, 100))
}

func TestVerifyGroup_TooFarApart(t *testing.T) {
	a := []docstore.TrajectoryPoint{{Latitude: 30.0, Longitude: -95.0, Speed: 5}}
	b := []docstore.TrajectoryPoint{{Latitude: 31.0, Longitude: -95.0, Speed: 3}}
	require.Equal(t, 0, verifyGroup(a, b, 100))
}

func TestVerifyGroup_ZeroSpeedExcluded(t *testing.T) {
	a := []docstore.TrajectoryPoint{{Latitude: 30.0, Longitude: -95.0, Speed: 0}}
	b := []docstore.TrajectoryPoint{{Latitude: 30.0, Longitude: -95.0, Speed: 5}}
	require.Equal(t, 0, verifyGroup(a, b, 100))
}

// TestCoLocatedSixtySeconds matches spec §8's trajectory validator
// property: driver and rider co-located every second for 60s (12 common
// 5-second slots) yields a cumulative score of 12 without early
// termination (early-stop threshold is 36).
func TestCoLocatedSixtySeconds(t *testing.T) {
	var driver, rider []docstore.TrajectoryPoint
	for i := int64(0); i < 60; i++ {
		driver = append(driver, docstore.TrajectoryPoint{Latitude: 30.0, Longitude: -95.0, Speed: 5, Timestamp: i})
		rider = append(rider, docstore.TrajectoryPoint{Latitude: 30.0, Longitude: -95.0, Speed: 5, Timestamp: i})
	}

	driverSlots := bucketBySlot(driver, 0, 59, 5)
	riderSlots := bucketBySlot(rider, 0, 59, 5)
	require.Len(t, driverSlots, 12)

	score := 0
	for idx := range driverSlots {
		score += verifyGroup(driverSlots[idx], riderSlots[idx], 100)
	}
	require.Equal(t, 12, score)
}

func TestBucketBySlot_ExcludesOutOfWindowPoints(t *testing.T) {
	points := []docstore.TrajectoryPoint{
		{Timestamp: -1},
		{Timestamp: 0},
		{Timestamp: 59},
		{Timestamp: 60},
	}
	slots := bucketBySlot(points, 0, 59, 5)
	total := 0
	for _, pts := range slots {
		total += len(pts)
	}
	require.Equal(t, 2, total)
}
