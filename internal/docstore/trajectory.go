package docstore

// TrajectoryPoint mirrors one point in spec §3's TripTrajectory document.
type TrajectoryPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// TripTrajectory mirrors spec §3: "per (user_id, trip_id): points".
type TripTrajectory struct {
	UserID int64             `json:"user_id"`
	TripID int64             `json:"trip_id"`
	Points []TrajectoryPoint `json:"points"`
}

const tripTrajectoryTable = "trip_trajectory"

// GetTrajectory fetches the trajectory document for a (user, trip) pair.
// Returns (nil, nil) when absent.
func (c *Client) GetTrajectory(userID, tripID int64) (*TripTrajectory, error) {
	var docs []TripTrajectory
	_, err := c.collection(tripTrajectoryTable).
		Select("*", "", false).
		Eq("user_id", itoa(userID)).
		Eq("trip_id", itoa(tripID)).
		ExecuteTo(&docs)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// UpsertTrajectory writes the trajectory document, keyed by (user_id, trip_id).
func (c *Client) UpsertTrajectory(doc *TripTrajectory) error {
	_, _, err := c.collection(tripTrajectoryTable).
		Upsert(doc, "user_id,trip_id", "", "").
		Execute()
	return err
}
