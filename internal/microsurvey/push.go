package microsurvey

import (
	"context"
	"time"
)

// PushTimeAdvisor proposes the next push instant, backed in production by
// an external language-model call; tests and the fallback path use
// simpler implementations, per the dependency-injection note in spec §9
// ("tests supply fakes").
type PushTimeAdvisor interface {
	ProposeTime(ctx context.Context, userID int64, now time.Time, timezone string) (time.Time, error)
}

// quietWindow is the user-local window spec §4.8 forbids scheduling into.
type quietWindow struct {
	startHour, startMin int
	endHour, endMin     int
}

const minLeadTime = 30 * time.Minute

// nextPushTime implements spec §4.8's nextPushTime: prefer the advisor's
// proposal, validated against the hard quiet-window constraint and the
// monotonicity rule (>= now+30m); fall back to now+1h clamped out of the
// quiet window on any failure or invalid proposal.
func (o *Orchestrator) nextPushTime(ctx context.Context, userID int64, now time.Time) time.Time {
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		loc = time.UTC
	}

	if o.advisor != nil {
		proposed, err := o.advisor.ProposeTime(ctx, userID, now, o.timezone)
		if err == nil && validPush(proposed, now, loc, o.quiet) {
			return proposed
		}
		o.log.Warn("microsurvey: push-time advisor returned an invalid or failed proposal, falling back", "user_id", userID, "err", err)
	}

	fallback := now.Add(time.Hour)
	return clampOutsideQuietWindow(fallback, loc, o.quiet)
}

// validPush enforces the hard constraint (outside the quiet window) and
// the monotonicity rule (>= now + 30m).
func validPush(t, now time.Time, loc *time.Location, w quietWindow) bool {
	if t.Before(now.Add(minLeadTime)) {
		return false
	}
	return !inQuietWindow(t, loc, w)
}

func inQuietWindow(t time.Time, loc *time.Location, w quietWindow) bool {
	local := t.In(loc)
	minsOfDay := local.Hour()*60 + local.Minute()
	start := w.startHour*60 + w.startMin
	end := w.endHour*60 + w.endMin
	if start > end {
		// window wraps midnight, e.g. 22:30 -> 07:00
		return minsOfDay >= start || minsOfDay < end
	}
	return minsOfDay >= start && minsOfDay < end
}

// clampOutsideQuietWindow pushes t forward to the window's end instant
// (same local day, or the next day if t's local clock is already past
// the window start) whenever t falls inside the quiet window.
func clampOutsideQuietWindow(t time.Time, loc *time.Location, w quietWindow) time.Time {
	if !inQuietWindow(t, loc, w) {
		return t
	}
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), w.endHour, w.endMin, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func parseClock(hhmm string, fallbackHour, fallbackMin int) (hour, min int) {
	var h, m int
	if _, err := parseHHMM(hhmm, &h, &m); err != nil {
		return fallbackHour, fallbackMin
	}
	return h, m
}

// parseHHMM parses a "HH:MM" string; deliberately minimal since the value
// always comes from our own config, never untrusted input.
func parseHHMM(s string, h, m *int) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, errInvalidClock
	}
	hh, err := atoi2(s[0:2])
	if err != nil {
		return 0, err
	}
	mm, err := atoi2(s[3:5])
	if err != nil {
		return 0, err
	}
	*h, *m = hh, mm
	return 0, nil
}

func atoi2(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidClock
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

var errInvalidClock = errClock("microsurvey: invalid HH:MM clock string")

type errClock string

func (e errClock) Error() string { return string(e) }
