// Package docstore fronts the schemaless document collections (Bytemark
// ticket cache/logs, ParkMobile price/event history, trip trajectories)
// through a PostgREST endpoint, the same way the portal's relational store
// is fronted by database/sql — typed Go structs in, typed structs out, no
// document database driver in the dependency graph.
package docstore

import (
	"fmt"

	postgrest "github.com/supabase-community/postgrest-go"
)

// Client wraps a postgrest-go client scoped to the document-store schema.
type Client struct {
	pg *postgrest.Client
}

// NewClient builds a docstore client from a PostgREST base URL and service
// key. Both are required; a missing key means requests would be rejected
// by row-level security on the far side.
func NewClient(url, key string) (*Client, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("docstore: url and key must both be set")
	}
	headers := map[string]string{
		"Authorization": "Bearer " + key,
		"apikey":        key,
	}
	pg := postgrest.NewClient(url, "public", headers)
	if pg == nil {
		return nil, fmt.Errorf("docstore: failed to construct postgrest client")
	}
	return &Client{pg: pg}, nil
}

// collection is a thin per-table helper, mirroring the teacher's
// From(table)-scoped query-builder pattern.
func (c *Client) collection(name string) *postgrest.QueryBuilder {
	return c.pg.From(name)
}
