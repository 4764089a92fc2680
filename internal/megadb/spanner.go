// Package megadb is the typed repository over the mega-carpool database —
// a physically separate Cloud Spanner instance mapping enterprise ids to
// the federation ("mega cluster") they belong to. It is read by C9. Its
// query errors are returned to the caller; the degraded-mode fallback to
// primary-only resolution lives in C9's resolver (megacarpool).
package megadb

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

// Store wraps a Spanner client scoped to the MegaCarpoolOrg table.
type Store struct {
	client *spanner.Client
}

// Open dials the mega-carpool Spanner database. project/instance/database
// follow Spanner's projects/{}/instances/{}/databases/{} addressing.
func Open(ctx context.Context, project, instance, database string) (*Store, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("megadb: dial spanner: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() {
	s.client.Close()
}

// staleness bounds mega-cluster reads; the mapping changes rarely so a
// few seconds of staleness is an acceptable trade for read latency.
const readStaleness = 10 * time.Second

// MegaClusterForEnterprise resolves a single enterprise_id to its
// mega_id. Returns ("", nil) when the enterprise has no mega-cluster
// mapping (not itself an error).
func (s *Store) MegaClusterForEnterprise(ctx context.Context, orgID int64) (string, error) {
	roTx := s.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(readStaleness))
	defer roTx.Close()

	row, err := roTx.ReadRow(ctx, "MegaCarpoolOrg", spanner.Key{orgID}, []string{"MegaID"})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}

	var megaID string
	if err := row.Columns(&megaID); err != nil {
		return "", err
	}
	return megaID, nil
}

// MegaClustersForEnterprises resolves a batch of enterprise ids in one
// round trip, per spec §4.6 step 3 ("resolve each enterprise_id to its
// mega cluster; union all peer enterprise_ids").
func (s *Store) MegaClustersForEnterprises(ctx context.Context, orgIDs []int64) (map[int64]string, error) {
	if len(orgIDs) == 0 {
		return map[int64]string{}, nil
	}

	keys := make([]spanner.KeySet, 0, len(orgIDs))
	for _, id := range orgIDs {
		keys = append(keys, spanner.Key{id})
	}

	roTx := s.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(readStaleness))
	defer roTx.Close()

	iter := roTx.Read(ctx, "MegaCarpoolOrg", spanner.KeySets(keys...), []string{"OrgID", "MegaID"})
	defer iter.Stop()

	out := make(map[int64]string, len(orgIDs))
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var orgID int64
		var megaID string
		if err := row.Columns(&orgID, &megaID); err != nil {
			return nil, err
		}
		out[orgID] = megaID
	}
	return out, nil
}

// EnterprisesInMegaClusters returns every enterprise id mapped to any of
// the given mega cluster ids — the "union all peer enterprise_ids" half
// of the same step.
func (s *Store) EnterprisesInMegaClusters(ctx context.Context, megaIDs []string) ([]int64, error) {
	if len(megaIDs) == 0 {
		return nil, nil
	}

	iter := s.client.Single().Query(ctx, spanner.Statement{
		SQL:    `SELECT OrgID FROM MegaCarpoolOrg WHERE MegaID IN UNNEST(@megaIDs)`,
		Params: map[string]interface{}{"megaIDs": megaIDs},
	})
	defer iter.Stop()

	var out []int64
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var orgID int64
		if err := row.Columns(&orgID); err != nil {
			return nil, err
		}
		out = append(out, orgID)
	}
	return out, nil
}
