// Package megacarpool implements C9: a stateless helper that expands a
// user to the full set of peers they can carpool-match with, spanning the
// primary portal DB (groups, members, enterprises) and the secondary
// Spanner mega-carpool DB (enterprise-to-federation mapping), grounded on
// the teacher's internal/federation two-tier membership resolver
// generalized from agent federations to carpool enterprises.
package megacarpool

import (
	"context"
	"log/slog"

	"github.com/metropia/maas-core/internal/megadb"
	"github.com/metropia/maas-core/internal/store"
)

// Resolver implements spec §4.9 getSameGroupUsers. All reads are
// eventually consistent; there are no writes.
type Resolver struct {
	db   *store.DB
	mega *megadb.Store
	log  *slog.Logger
}

func NewResolver(db *store.DB, mega *megadb.Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{db: db, mega: mega, log: log}
}

// SameGroupUsers implements spec §4.6's getSameGroupUsers in full:
//  1. active groups for the user
//  2. their enterprise ids
//  3. mega-cluster expansion of those enterprise ids (degrades to
//     primary-only on Spanner failure, per spec §4.9)
//  4. union of members across every resulting group
//
// The returned set excludes userID itself.
func (r *Resolver) SameGroupUsers(ctx context.Context, userID int64) ([]int64, error) {
	groups, err := store.ActiveGroupsForUser(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	groupIDs := make([]int64, 0, len(groups))
	var enterpriseIDs []int64
	for _, g := range groups {
		groupIDs = append(groupIDs, g.GroupID)
		if g.EnterpriseID.Valid {
			enterpriseIDs = append(enterpriseIDs, g.EnterpriseID.Int64)
		}
	}

	peerEnterpriseIDs := r.expandMegaCluster(ctx, enterpriseIDs)

	if len(peerEnterpriseIDs) > 0 {
		peerGroupIDs, err := store.GroupsForEnterprises(ctx, r.db, peerEnterpriseIDs)
		if err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, peerGroupIDs...)
	}
	groupIDs = dedupeInt64(groupIDs)

	members, err := store.MembersOfGroups(ctx, r.db, groupIDs)
	if err != nil {
		return nil, err
	}

	out := members[:0]
	for _, m := range members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// expandMegaCluster resolves enterprise ids to their mega clusters and
// back out to every peer enterprise id in those clusters. Any Spanner
// failure degrades to the input set unchanged ("degraded mode" per spec
// §4.6/§4.9) rather than failing the caller.
func (r *Resolver) expandMegaCluster(ctx context.Context, enterpriseIDs []int64) []int64 {
	if r.mega == nil || len(enterpriseIDs) == 0 {
		return dedupeInt64(enterpriseIDs)
	}

	clusters, err := r.mega.MegaClustersForEnterprises(ctx, enterpriseIDs)
	if err != nil {
		r.log.Warn("megacarpool: mega-carpool DB unavailable, degrading to primary-only peer resolution", "err", err)
		return dedupeInt64(enterpriseIDs)
	}

	megaIDs := make([]string, 0, len(clusters))
	seen := make(map[string]bool)
	for _, megaID := range clusters {
		if megaID == "" || seen[megaID] {
			continue
		}
		seen[megaID] = true
		megaIDs = append(megaIDs, megaID)
	}
	if len(megaIDs) == 0 {
		return dedupeInt64(enterpriseIDs)
	}

	peers, err := r.mega.EnterprisesInMegaClusters(ctx, megaIDs)
	if err != nil {
		r.log.Warn("megacarpool: mega-carpool DB unavailable, degrading to primary-only peer resolution", "err", err)
		return dedupeInt64(enterpriseIDs)
	}

	out := append(append([]int64{}, enterpriseIDs...), peers...)
	return dedupeInt64(out)
}

func dedupeInt64(in []int64) []int64 {
	if len(in) == 0 {
		return in
	}
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
