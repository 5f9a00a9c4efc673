package msgbus

import "maps"

// RawHeaders maps header keys to text values. Keys are unique; order is not
// significant.
type RawHeaders map[string]string

// Clone returns a copy of h. A nil h clones to an empty, non-nil map.
func (h RawHeaders) Clone() RawHeaders {
	out := make(RawHeaders, len(h))
	maps.Copy(out, h)
	return out
}

// Merge returns a new map holding h overlaid with other. Entries from other
// win on key collision. Neither input is modified.
func (h RawHeaders) Merge(other RawHeaders) RawHeaders {
	out := make(RawHeaders, len(h)+len(other))
	maps.Copy(out, h)
	maps.Copy(out, other)
	return out
}
