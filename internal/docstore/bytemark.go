package docstore

import "encoding/json"

// Bytemark product_uuid values that mark a pass as a free ticket, per
// spec §4.4 step 8. Once set, free_ticket_status sticks across refreshes.
const (
	FreeTicketProductA = "2417edb7-856c-43ee-b3df-c508b8be259b"
	FreeTicketProductB = "654b9f9d-5972-445b-8c6b-5c29a35c7751"
)

// PassEntry mirrors spec §3's PassEntry. Payload is kept as opaque JSON
// with an MD5 witness rather than re-typed, per spec §9's "opaque JSON
// payloads... not re-typed in the ledger/cache domain" redesign note.
type PassEntry struct {
	PassUUID         string          `json:"pass_uuid"`
	TimeCreated      int64           `json:"time_created"`
	Timestamp        int64           `json:"timestamp"`
	Status           string          `json:"status"`
	FreeTicketStatus int             `json:"free_ticket_status"`
	Payload          json.RawMessage `json:"payload"`
	PayloadHash      string          `json:"payload_hash"`
}

// BytemarkTicketsCache mirrors spec §3's BytemarkTicketsCache document.
type BytemarkTicketsCache struct {
	UserID    int64       `json:"user_id"`
	Timestamp int64       `json:"timestamp"`
	Passes    []PassEntry `json:"passes"`
	Passes4   []PassEntry `json:"passes4"`
}

// BytemarkTicketsLogEntry mirrors a single append-only log document.
type BytemarkTicketsLogEntry struct {
	UserID    int64     `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
	Source    string    `json:"source"` // "v1" or "v4"
	Pass      PassEntry `json:"pass"`
}

// BytemarkRefreshLogEntry mirrors BytemarkTicketRefreshLog.
type BytemarkRefreshLogEntry struct {
	UserID    int64 `json:"user_id"`
	Timestamp int64 `json:"timestamp"`
}

const (
	bytemarkCacheTable     = "bytemark_tickets_cache"
	bytemarkLogTable       = "bytemark_tickets_log"
	bytemarkRefreshLogTable = "bytemark_ticket_refresh_log"
)

// GetCache fetches the cache document for a user. Returns (nil, nil) when
// absent, matching the teacher's "len==0 -> nil, nil" convention for
// single-row lookups.
func (c *Client) GetCache(userID int64) (*BytemarkTicketsCache, error) {
	var docs []BytemarkTicketsCache
	_, err := c.collection(bytemarkCacheTable).
		Select("*", "", false).
		Eq("user_id", itoa(userID)).
		ExecuteTo(&docs)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// CountCaches reports the total number of cache documents, used by
// buildCacheIfEmpty's bootstrap check (spec §4.4).
func (c *Client) CountCaches() (int, error) {
	var docs []BytemarkTicketsCache
	_, err := c.collection(bytemarkCacheTable).Select("user_id", "exact", false).ExecuteTo(&docs)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// UpsertCache writes the cache document, keyed by user_id.
func (c *Client) UpsertCache(doc *BytemarkTicketsCache) error {
	_, _, err := c.collection(bytemarkCacheTable).
		Upsert(doc, "user_id", "", "").
		Execute()
	return err
}

// AppendLogEntries writes the per-pass observation log, per spec §4.4
// step 9.
func (c *Client) AppendLogEntries(entries []BytemarkTicketsLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, _, err := c.collection(bytemarkLogTable).Insert(entries, false, "", "", "").Execute()
	return err
}

// AppendRefreshLog records a single refresh event.
func (c *Client) AppendRefreshLog(entry BytemarkRefreshLogEntry) error {
	_, _, err := c.collection(bytemarkRefreshLogTable).Insert(entry, false, "", "", "").Execute()
	return err
}
