package bytemark

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/docstore"
)

func TestToPassEntry_FreeTicketDetection(t *testing.T) {
	up := upstreamPass{
		PassUUID:    "p1",
		TimeCreated: 100,
		Status:      "ACTIVE",
		ProductUUID: docstore.FreeTicketProductA,
		Payload:     json.RawMessage(`{"a":1}`),
	}
	entry := toPassEntry(up, false)
	require.Equal(t, 1, entry.FreeTicketStatus)
	require.NotEmpty(t, entry.PayloadHash)
}

func TestToPassEntry_FreeTicketStickiness(t *testing.T) {
	up := upstreamPass{
		PassUUID:    "p2",
		TimeCreated: 100,
		Status:      "ACTIVE",
		ProductUUID: "some-other-product",
		Payload:     json.RawMessage(`{}`),
	}
	entry := toPassEntry(up, true)
	require.Equal(t, 1, entry.FreeTicketStatus, "free ticket status must stick once set even if product_uuid no longer matches")
}

func TestToPassEntry_HashStableForIdenticalPayload(t *testing.T) {
	payload := json.RawMessage(`{"x":"y"}`)
	a := toPassEntry(upstreamPass{PassUUID: "p3", Payload: payload}, false)
	b := toPassEntry(upstreamPass{PassUUID: "p3", Payload: payload}, false)
	require.Equal(t, a.PayloadHash, b.PayloadHash)
}

func TestSortUpstream_OrdersByTimeCreatedAscending(t *testing.T) {
	passes := []upstreamPass{
		{PassUUID: "late", TimeCreated: 300},
		{PassUUID: "early", TimeCreated: 100},
		{PassUUID: "mid", TimeCreated: 200},
	}
	sortUpstream(passes)
	require.Equal(t, []string{"early", "mid", "late"}, []string{passes[0].PassUUID, passes[1].PassUUID, passes[2].PassUUID})
}
