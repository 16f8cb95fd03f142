package ring

// RangesFor returns the token ranges for which the given node is among the
// rf owners. Adjacent owned segments are coalesced only when they share the
// same owner set, so every token inside a returned range has exactly the
// owners reported by ReplicasForToken(range.To, rf). The recovering node
// relies on this to pick the siblings to pull each range from.
func (r *Ring) RangesFor(nodeID string, rf int) []TokenRange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 {
		return nil
	}
	if _, ok := r.nodes[nodeID]; !ok {
		return nil
	}
	if rf >= len(r.nodes) {
		// Every node owns the full ring.
		t := r.vnodes[0].Token
		return []TokenRange{{From: t, To: t}}
	}

	n := len(r.vnodes)
	var ranges []TokenRange
	var prevOwners map[string]bool
	for i := 0; i < n; i++ {
		owners := r.segmentOwnersLocked(i, rf)
		if !owners[nodeID] {
			prevOwners = nil
			continue
		}
		from := r.vnodes[(i-1+n)%n].Token
		to := r.vnodes[i].Token
		if len(ranges) > 0 && ranges[len(ranges)-1].To == from && sameOwners(owners, prevOwners) {
			ranges[len(ranges)-1].To = to
		} else {
			ranges = append(ranges, TokenRange{From: from, To: to})
		}
		prevOwners = owners
	}
	return ranges
}

// segmentOwnersLocked returns the first rf distinct nodes walking clockwise
// from vnode idx, the owners of the segment ending at that vnode's token.
func (r *Ring) segmentOwnersLocked(idx, rf int) map[string]bool {
	n := len(r.vnodes)
	owners := make(map[string]bool, rf)
	for step := 0; step < n && len(owners) < rf; step++ {
		owners[r.vnodes[(idx+step)%n].NodeID] = true
	}
	return owners
}

func sameOwners(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
