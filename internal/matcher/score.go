package matcher

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/biblioflow/backend/internal/normalize"
)

const (
	lastNameThreshold  = 90
	firstNameThreshold = 70
)

// scoreAuthors computes the author-match score between the reference's
// persons (authors plus editors) and a candidate's author list:
//
//	matched / max(len(persons), len(candidate authors))
//
// Each candidate author is consumed by at most one person.
func scoreAuthors(persons, candidates []string) float64 {
	if len(persons) == 0 || len(candidates) == 0 {
		return 0
	}

	parsedCands := make([]normalize.PersonName, len(candidates))
	for i, c := range candidates {
		parsedCands[i] = normalize.Person(c)
	}

	used := make([]bool, len(parsedCands))
	matched := 0
	for _, p := range persons {
		person := normalize.Person(p)
		for i, cand := range parsedCands {
			if used[i] {
				continue
			}
			if personsMatch(person, cand) {
				used[i] = true
				matched++
				break
			}
		}
	}

	denom := len(persons)
	if len(candidates) > denom {
		denom = len(candidates)
	}
	return float64(matched) / float64(denom)
}

// personsMatch applies the fuzzy name rule: last names must be nearly
// identical, and the first names must agree by initial, by full initials
// string, or by fuzzy partial similarity.
func personsMatch(a, b normalize.PersonName) bool {
	lastA := strings.ToLower(a.Last)
	lastB := strings.ToLower(b.Last)
	if lastA == "" || lastB == "" {
		return false
	}
	if fuzzy.Ratio(lastA, lastB) < lastNameThreshold {
		return false
	}

	// A bare surname on either side cannot contradict the other's given
	// names; the last-name match carries it.
	if a.First == "" || b.First == "" {
		return true
	}

	if a.Initials != "" && a.Initials == b.Initials {
		return true
	}
	if firstInitial(a.Initials) != "" && firstInitial(a.Initials) == firstInitial(b.Initials) {
		return true
	}
	return fuzzy.PartialRatio(strings.ToLower(a.First), strings.ToLower(b.First)) >= firstNameThreshold
}

func firstInitial(initials string) string {
	if initials == "" {
		return ""
	}
	return initials[:1]
}
