package presence

import "sort"

// FanOut is the split of a room's audience for one event.
type FanOut struct {
	// Broadcast receives the live push.
	Broadcast []uint
	// Notify receives a persisted notification instead.
	Notify []uint
}

// Split divides the authoritative members of a room into users who get the
// live broadcast (present) and users who must be notified (not present).
// exclude, normally the sender, lands in neither list. A present user who is
// no longer an authoritative member is dropped from both: membership wins
// over stale presence. Both lists are ascending and disjoint.
func Split(members []uint, present Set, exclude uint) FanOut {
	var out FanOut
	seen := make(Set, len(members))
	for _, id := range members {
		if id == exclude || seen.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		if present.Has(id) {
			out.Broadcast = append(out.Broadcast, id)
		} else {
			out.Notify = append(out.Notify, id)
		}
	}
	sort.Slice(out.Broadcast, func(i, j int) bool { return out.Broadcast[i] < out.Broadcast[j] })
	sort.Slice(out.Notify, func(i, j int) bool { return out.Notify[i] < out.Notify[j] })
	return out
}
