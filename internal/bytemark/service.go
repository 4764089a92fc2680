package bytemark

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/docstore"
	"github.com/metropia/maas-core/internal/store"
)

var freeTicketProducts = map[string]bool{
	docstore.FreeTicketProductA: true,
	docstore.FreeTicketProductB: true,
}

const cacheTimeout = 60 * time.Minute

// Service is C4's entry point.
type Service struct {
	db       *store.DB
	docs     *docstore.Client
	upstream *UpstreamClient
	clock    clock.Clock
	log      *slog.Logger
}

func NewService(db *store.DB, docs *docstore.Client, upstream *UpstreamClient, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, docs: docs, upstream: upstream, clock: clk, log: log}
}

// CheckTicketCache dispatches to build or update, per spec §4.4.
func (s *Service) CheckTicketCache(ctx context.Context, userID int64) error {
	cache, err := s.docs.GetCache(userID)
	if err != nil {
		return fmt.Errorf("bytemark: load cache: %w", err)
	}
	if cache == nil {
		return s.BuildTicketCache(ctx, userID)
	}
	return s.UpdateTicketCache(ctx, userID, cache)
}

// BuildTicketCache creates the cache document if absent.
func (s *Service) BuildTicketCache(ctx context.Context, userID int64) error {
	existing, err := s.docs.GetCache(userID)
	if err != nil {
		return fmt.Errorf("bytemark: load cache: %w", err)
	}
	if existing != nil {
		return nil
	}
	return s.refresh(ctx, userID, nil)
}

// UpdateTicketCache incrementally refreshes an existing cache document.
func (s *Service) UpdateTicketCache(ctx context.Context, userID int64, cache *docstore.BytemarkTicketsCache) error {
	return s.refresh(ctx, userID, cache)
}

// CheckTicketCacheTimeout refreshes iff the cache is older than 60 minutes.
func (s *Service) CheckTicketCacheTimeout(ctx context.Context, userID int64) error {
	cache, err := s.docs.GetCache(userID)
	if err != nil {
		return fmt.Errorf("bytemark: load cache: %w", err)
	}
	if cache == nil {
		return s.BuildTicketCache(ctx, userID)
	}
	age := s.clock.Now().Sub(time.Unix(cache.Timestamp, 0))
	if age < cacheTimeout {
		return nil
	}
	return s.UpdateTicketCache(ctx, userID, cache)
}

// BuildCacheIfEmpty bootstraps: if the global cache count is 0, build for
// every user with a linked Bytemark OAuth token, per spec §4.4.
func (s *Service) BuildCacheIfEmpty(ctx context.Context) (int, error) {
	count, err := s.docs.CountCaches()
	if err != nil {
		return 0, fmt.Errorf("bytemark: count caches: %w", err)
	}
	if count != 0 {
		return 0, nil
	}

	userIDs, err := store.UsersWithBytemarkOAuthToken(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("bytemark: list linked users: %w", err)
	}

	built := 0
	for _, userID := range userIDs {
		if err := s.BuildTicketCache(ctx, userID); err != nil {
			s.log.Warn("bytemark: bootstrap build failed for user", "user_id", userID, "err", err)
			continue
		}
		built++
	}
	return built, nil
}

// refresh runs the full §4.4 refresh protocol. cache is nil on first build.
func (s *Service) refresh(ctx context.Context, userID int64, cache *docstore.BytemarkTicketsCache) error {
	tok, err := store.GetBytemarkOAuthToken(ctx, s.db, userID)
	if err != nil {
		return fmt.Errorf("bytemark: load oauth token: %w", err)
	}
	if tok == nil {
		// Step 1: no linked account, nothing to do.
		return nil
	}

	now := s.clock.Now()
	var logEntries []docstore.BytemarkTicketsLogEntry

	v1Passes, v1Err := s.upstream.FetchPassesV1(ctx, tok.AccessToken)
	if v1Err != nil {
		s.log.Warn("bytemark: v1 fetch failed", "user_id", userID, "err", v1Err)
	}
	v4Passes, v4Err := s.upstream.FetchPassesV4Expired(ctx, tok.AccessToken)
	if v4Err != nil {
		s.log.Warn("bytemark: v4 fetch failed", "user_id", userID, "err", v4Err)
	}
	if v1Err != nil && v4Err != nil {
		return fmt.Errorf("bytemark: both upstream fetches failed: v1=%v v4=%v", v1Err, v4Err)
	}

	var newPasses, newPasses4 []docstore.PassEntry
	existingFreeTickets := map[string]bool{}
	if cache != nil {
		for _, p := range cache.Passes {
			if p.FreeTicketStatus == 1 {
				existingFreeTickets[p.PassUUID] = true
			}
		}
		for _, p := range cache.Passes4 {
			if p.FreeTicketStatus == 1 {
				existingFreeTickets[p.PassUUID] = true
			}
		}
	}

	if v1Err == nil {
		sortUpstream(v1Passes)
		for _, up := range v1Passes {
			entry := toPassEntry(up, existingFreeTickets[up.PassUUID])
			newPasses = append(newPasses, entry)
			logEntries = append(logEntries, docstore.BytemarkTicketsLogEntry{UserID: userID, Timestamp: now.Unix(), Source: "v1", Pass: entry})
		}
	} else if cache != nil {
		newPasses = cache.Passes
	}

	if v4Err == nil {
		sortUpstream(v4Passes)
		byUUID := map[string]docstore.PassEntry{}
		if cache != nil {
			for _, p := range cache.Passes4 {
				byUUID[p.PassUUID] = p
			}
		}
		for _, up := range v4Passes {
			entry := toPassEntry(up, existingFreeTickets[up.PassUUID])
			if prior, ok := byUUID[up.PassUUID]; ok && prior.PayloadHash == entry.PayloadHash {
				// Step 7: hash matches, retain the existing entry untouched.
				byUUID[up.PassUUID] = prior
				continue
			}
			// Step 7: hash changed (or entry is new) — payload, hash, and
			// timestamp all advance to now.
			entry.Timestamp = now.Unix()
			byUUID[up.PassUUID] = entry
			logEntries = append(logEntries, docstore.BytemarkTicketsLogEntry{UserID: userID, Timestamp: now.Unix(), Source: "v4", Pass: entry})
		}
		for _, p := range byUUID {
			newPasses4 = append(newPasses4, p)
		}
		sort.Slice(newPasses4, func(i, j int) bool { return newPasses4[i].TimeCreated < newPasses4[j].TimeCreated })
	} else if cache != nil {
		newPasses4 = cache.Passes4
	}

	if err := s.docs.AppendRefreshLog(docstore.BytemarkRefreshLogEntry{UserID: userID, Timestamp: now.Unix()}); err != nil {
		s.log.Warn("bytemark: append refresh log failed", "user_id", userID, "err", err)
	}
	if err := s.docs.AppendLogEntries(logEntries); err != nil {
		s.log.Warn("bytemark: append log entries failed", "user_id", userID, "err", err)
	}

	doc := &docstore.BytemarkTicketsCache{
		UserID:    userID,
		Timestamp: now.Unix(),
		Passes:    newPasses,
		Passes4:   newPasses4,
	}
	if err := s.docs.UpsertCache(doc); err != nil {
		return fmt.Errorf("bytemark: upsert cache: %w", err)
	}
	return nil
}

func sortUpstream(passes []upstreamPass) {
	sort.Slice(passes, func(i, j int) bool { return passes[i].TimeCreated < passes[j].TimeCreated })
}

// toPassEntry builds a PassEntry, computing payload_hash = MD5(JSON) and
// the free-ticket-status stickiness rule of step 8.
func toPassEntry(up upstreamPass, wasFreeTicket bool) docstore.PassEntry {
	sum := md5.Sum(up.Payload)
	hash := hex.EncodeToString(sum[:])

	freeTicket := 0
	if wasFreeTicket || freeTicketProducts[up.ProductUUID] {
		freeTicket = 1
	}

	return docstore.PassEntry{
		PassUUID:         up.PassUUID,
		TimeCreated:      up.TimeCreated,
		Status:           up.Status,
		FreeTicketStatus: freeTicket,
		Payload:          up.Payload,
		PayloadHash:      hash,
	}
}
