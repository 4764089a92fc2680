package docstore

import "time"

// Retention windows per spec §3: "PmPriceObjects, PmParkingEvents (history)
// — document collections with 30-day and 90-day retention respectively."
const (
	PmPriceObjectsRetention  = 30 * 24 * time.Hour
	PmParkingEventsRetention = 90 * 24 * time.Hour
)

// PmPriceObject is a snapshot of an upstream ParkMobile price quote,
// retained for 30 days for support/dispute lookups.
type PmPriceObject struct {
	UserID    int64     `json:"user_id"`
	Area      string    `json:"area"`
	Zone      string    `json:"zone"`
	Quote     []byte    `json:"quote"` // opaque upstream JSON
	CapturedAt time.Time `json:"captured_at"`
}

// PmParkingEventHistory is an append-only copy of a parking event's
// lifecycle, retained for 90 days.
type PmParkingEventHistory struct {
	EventID    int64     `json:"event_id"`
	UserID     int64     `json:"user_id"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

const (
	pmPriceObjectsTable  = "pm_price_objects"
	pmParkingHistoryTable = "pm_parking_events_history"
)

func (c *Client) RecordPriceObject(obj PmPriceObject) error {
	_, _, err := c.collection(pmPriceObjectsTable).Insert(obj, false, "", "", "").Execute()
	return err
}

func (c *Client) RecordParkingEventHistory(h PmParkingEventHistory) error {
	_, _, err := c.collection(pmParkingHistoryTable).Insert(h, false, "", "", "").Execute()
	return err
}

// PurgePriceObjectsOlderThan deletes price-object documents captured
// before the retention cutoff. Returns no count: PostgREST delete
// responses are not counted here, matching the teacher's fire-and-log
// cleanup style for cache/log purges.
func (c *Client) PurgePriceObjectsOlderThan(cutoff time.Time) error {
	_, _, err := c.collection(pmPriceObjectsTable).
		Delete("", "").
		Lt("captured_at", cutoff.Format(time.RFC3339)).
		Execute()
	return err
}

func (c *Client) PurgeParkingHistoryOlderThan(cutoff time.Time) error {
	_, _, err := c.collection(pmParkingHistoryTable).
		Delete("", "").
		Lt("recorded_at", cutoff.Format(time.RFC3339)).
		Execute()
	return err
}
