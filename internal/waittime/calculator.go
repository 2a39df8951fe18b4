// Package waittime computes estimated waits for a restaurant queue.  All
// functions are pure: they never block, never fail and never touch
// storage, so the coordinator can call them while holding locks.
package waittime

import "github.com/iliyamo/restaurant-waitlist/internal/model"

const (
	// MinutesPerParty is charged for every party ahead in the queue.
	MinutesPerParty = 30
	// MinutesPerGuest is charged for every guest of the party itself.
	MinutesPerGuest = 5
)

// IndividualWait returns the wait of a party of partySize at the given
// 1-based position.  Out-of-range inputs are clamped to position 1 and
// party size 1.
func IndividualWait(position, partySize int) int {
	if position < 1 {
		position = 1
	}
	if partySize < 1 {
		partySize = 1
	}
	return nonNegative((position-1)*MinutesPerParty + partySize*MinutesPerGuest)
}

// AggregateWait is the sum-based restaurant wait: every waiting party
// counts 30 minutes and every waiting guest 5.  Applied after joins,
// status changes and bulk removals.
func AggregateWait(waiting []model.WaitlistEntry) int {
	people := 0
	for _, e := range waiting {
		people += e.PartySize
	}
	return nonNegative(len(waiting)*MinutesPerParty + people*MinutesPerGuest)
}

// FirstPositionWait is the wait the party at the head of the queue will
// see, or 0 for an empty queue.  Applied after a targeted removal or a
// cancellation.  waiting must be ordered by creation time.
func FirstPositionWait(waiting []model.WaitlistEntry) int {
	if len(waiting) == 0 {
		return 0
	}
	return IndividualWait(1, waiting[0].PartySize)
}

// Adjusted applies a manual delta to base and clamps the result at zero.
func Adjusted(base, delta int) int {
	return nonNegative(base + delta)
}

// Rank sets Position on every entry (1-based, in slice order), stores the
// formula wait plus delta and returns the indexes of the entries whose
// stored wait changed.  waiting must be ordered by creation time.
func Rank(waiting []model.WaitlistEntry, delta int) []int {
	var changed []int
	for i := range waiting {
		waiting[i].Position = i + 1
		w := Adjusted(IndividualWait(i+1, waiting[i].PartySize), delta)
		if waiting[i].EstimatedWaitTime == nil || *waiting[i].EstimatedWaitTime != w {
			waiting[i].SetWait(w)
			changed = append(changed, i)
		}
	}
	return changed
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
