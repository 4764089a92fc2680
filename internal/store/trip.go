package store

import (
	"context"
	"database/sql"
	"time"
)

// DuoValidatedResult.validation_status per spec §3.
const (
	ValidationFail = 1
	ValidationPass = 2
)

// DuoTrip is the driver/rider trip linkage consumed by the trajectory
// validator (C7), joined through duo_reservation the same way
// InFlightEdgesForReservation joins it for the carpool relation manager.
type DuoTrip struct {
	TripID        int64
	ReservationID int64
	UserID        int64
	Role          int
	PickupTS      time.Time
	DropoffTS     time.Time
}

// UnvalidatedDriverTrips returns completed driver trips in [since, until)
// that have no DuoValidatedResult row yet, per spec §4.7
// carpoolBlockValidationJob "unvalidated driver trip from the previous day".
func UnvalidatedDriverTrips(ctx context.Context, q Querier, since, until time.Time) ([]DuoTrip, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dt.trip_id, dt.reservation_id, dt.user_id, dt.role, dt.pickup_ts, dt.dropoff_ts
		FROM duo_trip dt
		JOIN reservation r ON r.id = dt.reservation_id
		WHERE r.role = $1 AND dt.dropoff_ts >= $2 AND dt.dropoff_ts < $3
		  AND NOT EXISTS (
		      SELECT 1 FROM duo_validated_result dvr WHERE dvr.driver_trip_id = dt.trip_id)`,
		ReservationRoleDriver, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DuoTrip
	for rows.Next() {
		var t DuoTrip
		if err := rows.Scan(&t.TripID, &t.ReservationID, &t.UserID, &t.Role, &t.PickupTS, &t.DropoffTS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MatchedRiderTrip finds the rider-side trip matched to a driver
// reservation via the duo_reservation invitation/offer edge, per spec
// §4.7 "Find matched rider trip via DuoReservation/DuoTrip linkage".
func MatchedRiderTrip(ctx context.Context, q Querier, driverReservationID int64) (*DuoTrip, error) {
	var t DuoTrip
	err := q.QueryRowContext(ctx, `
		SELECT dt.trip_id, dt.reservation_id, dt.user_id, dt.role, dt.pickup_ts, dt.dropoff_ts
		FROM duo_reservation dr
		JOIN duo_trip dt ON dt.reservation_id = dr.offer_id
		JOIN reservation r ON r.id = dt.reservation_id
		WHERE dr.reservation_id = $1 AND r.role = $2
		ORDER BY dr.id LIMIT 1`, driverReservationID, ReservationRoleRider).
		Scan(&t.TripID, &t.ReservationID, &t.UserID, &t.Role, &t.PickupTS, &t.DropoffTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertDuoValidatedResult records a trajectory-validation outcome, per
// spec §4.7 batch job step "write DuoValidatedResult".
func InsertDuoValidatedResult(ctx context.Context, tx *sql.Tx, driverTripID, riderTripID int64, validationStatus, passed, score int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO duo_validated_result (driver_trip_id, rider_trip_id, validation_status, passed, score)
		VALUES ($1, $2, $3, $4, $5)`, driverTripID, riderTripID, validationStatus, passed, score)
	return err
}
