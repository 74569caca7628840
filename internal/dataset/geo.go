package dataset

import "strings"

// LatLngPair is a latitude/longitude field pair sharing a name prefix.
type LatLngPair struct {
	Prefix string
	Lat    Field
	Lng    Field
}

var (
	latSuffixes = []string{"_latitude", "_lat"}
	lngSuffixes = []string{"_longitude", "_lng", "_lon", "_long"}
)

// GroupLatLngPairs pairs geo fields named "<prefix>_lat" and "<prefix>_lng"
// (or their long forms). Fields that do not pair up are returned in rest, in
// input order.
func GroupLatLngPairs(fields []Field) (pairs []LatLngPair, rest []Field) {
	lats := map[string]int{}
	lngs := map[string]int{}
	for i, f := range fields {
		name := strings.ToLower(f.Name)
		if p, ok := trimAny(name, latSuffixes); ok {
			lats[p] = i
		} else if p, ok := trimAny(name, lngSuffixes); ok {
			lngs[p] = i
		}
	}
	paired := map[int]bool{}
	for i, f := range fields {
		p, ok := trimAny(strings.ToLower(f.Name), latSuffixes)
		if !ok || lats[p] != i {
			continue
		}
		j, ok := lngs[p]
		if !ok {
			continue
		}
		pairs = append(pairs, LatLngPair{Prefix: f.Name[:len(p)], Lat: f, Lng: fields[j]})
		paired[i], paired[j] = true, true
	}
	for i, f := range fields {
		if !paired[i] {
			rest = append(rest, f)
		}
	}
	return pairs, rest
}

func trimAny(s string, suffixes []string) (string, bool) {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return strings.TrimSuffix(s, suf), true
		}
	}
	return s, false
}
