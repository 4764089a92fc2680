// Package carpool implements C6: keeps carpool invitations, matches, and
// per-reservation statistics consistent whenever group membership
// changes, grounded on the teacher's internal/federation membership-
// change reconciler generalized from agent-group teardown to carpool
// group/member mutations.
package carpool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

// PeerResolver is satisfied by *megacarpool.Resolver; the narrow interface
// lets tests inject a fake instead of a real two-DB resolver, per the
// dependency-injection note in spec §9.
type PeerResolver interface {
	SameGroupUsers(ctx context.Context, userID int64) ([]int64, error)
}

// RelationManager is C6's entry point.
type RelationManager struct {
	db       *store.DB
	resolver PeerResolver
	clock    clock.Clock
	log      *slog.Logger
}

func NewRelationManager(db *store.DB, resolver PeerResolver, clk clock.Clock, log *slog.Logger) *RelationManager {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RelationManager{db: db, resolver: resolver, clock: clk, log: log}
}

// ProcessGroupChange implements spec §4.6's processCarpoolRelationForGroup:
// invitation cleanup, then match cleanup, then statistic recompute, in
// that order. userID == nil means whole-group teardown. The operation is
// idempotent — running it twice with no intervening change is a no-op the
// second time.
func (m *RelationManager) ProcessGroupChange(ctx context.Context, groupID int64, userID *int64) error {
	affected, err := store.AffectedReservationsForGroup(ctx, m.db, groupID, userID)
	if err != nil {
		return fmt.Errorf("carpool: affected reservations: %w", err)
	}

	for _, reservationID := range affected {
		if err := m.cleanupInvitations(ctx, reservationID); err != nil {
			return fmt.Errorf("carpool: cleanup invitations for reservation %d: %w", reservationID, err)
		}
		if err := m.cleanupMatches(ctx, reservationID); err != nil {
			return fmt.Errorf("carpool: cleanup matches for reservation %d: %w", reservationID, err)
		}
	}
	for _, reservationID := range affected {
		if err := m.recomputeStatistic(ctx, reservationID); err != nil {
			return fmt.Errorf("carpool: recompute statistic for reservation %d: %w", reservationID, err)
		}
	}
	return nil
}

// GetSameGroupUsers delegates peer resolution to C9, per spec §4.6.
func (m *RelationManager) GetSameGroupUsers(ctx context.Context, userID int64) ([]int64, error) {
	return m.resolver.SameGroupUsers(ctx, userID)
}

// cleanupInvitations removes DuoReservation edges whose invited side is no
// longer a group peer of the inviter, per spec §4.6 "Invitation cleanup".
func (m *RelationManager) cleanupInvitations(ctx context.Context, reservationID int64) error {
	edges, err := store.InFlightEdgesForReservation(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	inviterUserID, err := store.ReservationOwner(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	peers, err := m.resolver.SameGroupUsers(ctx, inviterUserID)
	if err != nil {
		return err
	}
	peerSet := toSet(peers)

	for _, edge := range edges {
		invitedUserID, err := store.ReservationOwner(ctx, m.db, edge.OfferID)
		if err != nil {
			return err
		}
		if peerSet[invitedUserID] {
			continue
		}
		if err := store.DeleteDuoReservationEdge(ctx, m.db, edge.ID); err != nil {
			return err
		}

		remaining, err := store.CountLiveInvitesReceived(ctx, m.db, edge.OfferID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			m.log.Debug("carpool: no other invite so remove", "reservation_id", edge.OfferID)
		}
	}
	return nil
}

// cleanupMatches removes MatchStatistic rows whose counterparty is no
// longer a peer, per spec §4.6 "Match cleanup".
func (m *RelationManager) cleanupMatches(ctx context.Context, reservationID int64) error {
	matches, err := store.MatchesForReservation(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	ownerUserID, err := store.ReservationOwner(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	peers, err := m.resolver.SameGroupUsers(ctx, ownerUserID)
	if err != nil {
		return err
	}
	peerSet := toSet(peers)

	for _, match := range matches {
		counterpartyUserID, err := store.ReservationOwner(ctx, m.db, match.MatchReservationID)
		if err != nil {
			return err
		}
		if peerSet[counterpartyUserID] {
			continue
		}
		if err := store.DeleteMatchStatistic(ctx, m.db, match.ID); err != nil {
			return err
		}
		m.log.Debug("carpool: match no longer between peers, removed", "reservation_id", reservationID, "match_reservation_id", match.MatchReservationID)
	}
	return nil
}

// recomputeStatistic recomputes and upserts ReservationMatch aggregates
// from the surviving edges, per spec §4.6 "Statistic recompute". Running
// this twice in a row with no intervening mutation yields identical
// counts, satisfying the idempotence property of spec §8.
func (m *RelationManager) recomputeStatistic(ctx context.Context, reservationID int64) error {
	inviteSent, err := store.CountLiveInvitesSent(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	inviteReceived, err := store.CountLiveInvitesReceived(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	matches, err := store.CountLiveMatches(ctx, m.db, reservationID)
	if err != nil {
		return err
	}
	return store.UpsertReservationMatch(ctx, m.db, reservationID, inviteSent, inviteReceived, matches, m.clock.Now().UTC())
}

func toSet(ids []int64) map[int64]bool {
	s := make(map[int64]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
