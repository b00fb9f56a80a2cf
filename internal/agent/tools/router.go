package tools

import "strings"

var (
	shelterKeywords = []string{
		"shelter", "homeless", "respite", "overnight", "place to sleep",
		"somewhere to sleep", "bed", "motel", "evicted", "drop-in",
	}
	familyKeywords = []string{
		"family centre", "family center", "child", "kid", "earlyon", "early on",
		"parent", "baby", "toddler", "infant", "playgroup", "caregiver",
	}
)

// Router picks the adapters worth calling for a query. Shelter words select
// the shelter adapter, family and child words the family centre adapter,
// and a query with neither goes to both.
type Router struct {
	shelters Adapter
	families Adapter
}

func NewRouter(shelters, families Adapter) *Router {
	return &Router{shelters: shelters, families: families}
}

func (r *Router) Route(query string) []Adapter {
	q := strings.ToLower(query)
	wantShelters := containsAny(q, shelterKeywords)
	wantFamilies := containsAny(q, familyKeywords)
	if !wantShelters && !wantFamilies {
		wantShelters, wantFamilies = true, true
	}

	var out []Adapter
	if wantShelters && r.shelters != nil {
		out = append(out, r.shelters)
	}
	if wantFamilies && r.families != nil {
		out = append(out, r.families)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
