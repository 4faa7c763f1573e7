package identity

// Wildcard marks an allow-list that accepts any device address.
const Wildcard = "*"

// AllowList is the set of device identities eligible for discovery and
// connection. Entries are stored normalized, so lookups are insensitive to
// address case and separator formatting.
type AllowList struct {
	acceptAny  bool
	identities map[string]struct{}
	ordered    []string
}

// NewAllowList builds an allow-list from configured hardware addresses.
// A single "*" entry accepts any device.
func NewAllowList(addresses []string) *AllowList {
	a := &AllowList{
		identities: make(map[string]struct{}, len(addresses)),
	}
	for _, addr := range addresses {
		if addr == Wildcard {
			a.acceptAny = true
			continue
		}
		id := NormalizeDeviceID(addr)
		if id == "" {
			continue
		}
		if _, seen := a.identities[id]; seen {
			continue
		}
		a.identities[id] = struct{}{}
		a.ordered = append(a.ordered, id)
	}
	return a
}

// AcceptsAny reports whether the list contains the wildcard entry.
func (a *AllowList) AcceptsAny() bool {
	return a.acceptAny
}

// Contains reports whether the given address (in any formatting) is eligible.
func (a *AllowList) Contains(address string) bool {
	if a.acceptAny {
		return true
	}
	_, ok := a.identities[NormalizeDeviceID(address)]
	return ok
}

// Identities returns the normalized identities in configuration order. The
// slice is empty for a wildcard-only list, where the eligible set is unbounded.
func (a *AllowList) Identities() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Size returns the number of explicit (non-wildcard) entries.
func (a *AllowList) Size() int {
	return len(a.ordered)
}
