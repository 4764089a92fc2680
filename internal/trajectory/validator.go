// Package trajectory implements C7: geospatial scoring of driver/rider
// GPS traces to validate carpool payout eligibility, grounded on the
// teacher's internal/reputation scoring pass (bucketed-window aggregation
// over time-series signals) generalized from reputation deltas to
// haversine proximity over 5-second trajectory slots.
package trajectory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/metropia/maas-core/internal/docstore"
	"github.com/metropia/maas-core/internal/store"
)

const earthRadiusMeters = 6378137.0 // EARTH_RADIUS = 6378.137 km, per spec §4.7

// Config holds the tunables spec §4.7 names explicitly.
type Config struct {
	SlotSeconds        int
	ProximityMeters    float64
	EarlyStopScore     int
	PassScoreThreshold int
}

func defaultConfig(c Config) Config {
	if c.SlotSeconds == 0 {
		c.SlotSeconds = 5
	}
	if c.ProximityMeters == 0 {
		c.ProximityMeters = 100
	}
	if c.EarlyStopScore == 0 {
		c.EarlyStopScore = 36
	}
	if c.PassScoreThreshold == 0 {
		c.PassScoreThreshold = 35
	}
	return c
}

// MatchRequest is VerifyTrajectoryMatch's input, per spec §4.7.
type MatchRequest struct {
	DriverID      int64
	RiderID       int64
	DriverTripID  int64
	RiderTripID   int64
	StartTS       int64
	EndTS         int64
}

// Validator is C7's entry point.
type Validator struct {
	docs *docstore.Client
	db   *store.DB
	cfg  Config
	log  *slog.Logger
}

func NewValidator(docs *docstore.Client, db *store.DB, cfg Config, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{docs: docs, db: db, cfg: defaultConfig(cfg), log: log}
}

// VerifyTrajectoryMatch implements spec §4.7's algorithm: bucket each
// participant's points into 5-second slots over [start_ts, end_ts],
// intersect non-empty slot indices, and sum verifyGroup over each common
// slot, stopping early once the cumulative score reaches EarlyStopScore.
func (v *Validator) VerifyTrajectoryMatch(ctx context.Context, req MatchRequest) (int, error) {
	driverTraj, err := v.docs.GetTrajectory(req.DriverID, req.DriverTripID)
	if err != nil {
		return 0, fmt.Errorf("trajectory: load driver trajectory: %w", err)
	}
	riderTraj, err := v.docs.GetTrajectory(req.RiderID, req.RiderTripID)
	if err != nil {
		return 0, fmt.Errorf("trajectory: load rider trajectory: %w", err)
	}
	if driverTraj == nil || riderTraj == nil {
		return 0, nil
	}

	driverSlots := bucketBySlot(driverTraj.Points, req.StartTS, req.EndTS, v.cfg.SlotSeconds)
	riderSlots := bucketBySlot(riderTraj.Points, req.StartTS, req.EndTS, v.cfg.SlotSeconds)

	common := make([]int, 0, len(driverSlots))
	for idx := range driverSlots {
		if _, ok := riderSlots[idx]; ok {
			common = append(common, idx)
		}
	}
	sort.Ints(common)

	score := 0
	for _, idx := range common {
		score += verifyGroup(driverSlots[idx], riderSlots[idx], v.cfg.ProximityMeters)
		if score >= v.cfg.EarlyStopScore {
			break
		}
	}
	return score, nil
}

// bucketBySlot assigns each in-window point to floor((t-start)/slotSeconds).
func bucketBySlot(points []docstore.TrajectoryPoint, startTS, endTS int64, slotSeconds int) map[int][]docstore.TrajectoryPoint {
	out := make(map[int][]docstore.TrajectoryPoint)
	for _, p := range points {
		if p.Timestamp < startTS || p.Timestamp > endTS {
			continue
		}
		idx := int((p.Timestamp - startTS) / int64(slotSeconds))
		out[idx] = append(out[idx], p)
	}
	return out
}

// verifyGroup implements spec §4.7's verifyGroup: 1 if any (a,b) pair is
// within proximityMeters and both have positive speed, else 0.
func verifyGroup(a, b []docstore.TrajectoryPoint, proximityMeters float64) int {
	for _, pa := range a {
		if pa.Speed <= 0 {
			continue
		}
		for _, pb := range b {
			if pb.Speed <= 0 {
				continue
			}
			if haversineMeters(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude) <= proximityMeters {
				return 1
			}
		}
	}
	return 0
}

// haversineMeters is the standard great-circle distance formula.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BlockValidationJob implements spec §4.7's carpoolBlockValidationJob: for
// every unvalidated driver trip from the previous day, find its matched
// rider trip, verify, and record a DuoValidatedResult. Per-trip failures
// are logged and do not abort the batch.
func (v *Validator) BlockValidationJob(ctx context.Context, previousDayStart, previousDayEnd time.Time) (processed int, err error) {
	trips, err := store.UnvalidatedDriverTrips(ctx, v.db, previousDayStart, previousDayEnd)
	if err != nil {
		return 0, fmt.Errorf("trajectory: list unvalidated driver trips: %w", err)
	}

	for _, driverTrip := range trips {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := v.validateOne(ctx, driverTrip); err != nil {
			v.log.Warn("trajectory: per-trip validation failed, skipping", "driver_trip_id", driverTrip.TripID, "err", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (v *Validator) validateOne(ctx context.Context, driverTrip store.DuoTrip) error {
	riderTrip, err := store.MatchedRiderTrip(ctx, v.db, driverTrip.ReservationID)
	if err != nil {
		return fmt.Errorf("find matched rider trip: %w", err)
	}
	if riderTrip == nil {
		return fmt.Errorf("no matched rider trip")
	}

	startTS, endTS := commonWindow(driverTrip, *riderTrip)
	score, err := v.VerifyTrajectoryMatch(ctx, MatchRequest{
		DriverID:     driverTrip.UserID,
		RiderID:      riderTrip.UserID,
		DriverTripID: driverTrip.TripID,
		RiderTripID:  riderTrip.TripID,
		StartTS:      startTS,
		EndTS:        endTS,
	})
	if err != nil {
		return fmt.Errorf("verify trajectory match: %w", err)
	}

	status, passed := store.ValidationFail, 0
	resultScore := score
	if score > v.cfg.PassScoreThreshold {
		status, passed, resultScore = store.ValidationPass, 1, 100
	}

	return v.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertDuoValidatedResult(ctx, tx, driverTrip.TripID, riderTrip.TripID, status, passed, resultScore)
	})
}

// commonWindow is the pickup→dropoff window shared by both trips.
func commonWindow(driver, rider store.DuoTrip) (startTS, endTS int64) {
	start := driver.PickupTS
	if rider.PickupTS.After(start) {
		start = rider.PickupTS
	}
	end := driver.DropoffTS
	if rider.DropoffTS.Before(end) {
		end = rider.DropoffTS
	}
	return start.Unix(), end.Unix()
}
