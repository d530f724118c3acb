// Package matcher resolves a raw reference to a canonical work by searching
// OpenAlex and Crossref with progressively looser queries and scoring the
// candidates on author agreement.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/normalize"
	"github.com/biblioflow/backend/pkg/crossref"
	"github.com/biblioflow/backend/pkg/openalex"
)

// OpenAlexSearcher is the slice of the OpenAlex client the matcher uses.
type OpenAlexSearcher interface {
	FilterWorks(ctx context.Context, filter string, perPage int) ([]openalex.Work, error)
	SearchWorks(ctx context.Context, query string, perPage int) ([]openalex.Work, error)
}

// CrossrefSearcher is the slice of the Crossref client the matcher uses.
type CrossrefSearcher interface {
	QueryWorks(ctx context.Context, q crossref.WorksQuery) ([]crossref.Item, error)
}

// Matcher runs the multi-step candidate search. One instance is shared by
// all enrichment workers; it holds no per-reference state.
type Matcher struct {
	openalex OpenAlexSearcher
	crossref CrossrefSearcher
	perStep  int
}

func New(oa OpenAlexSearcher, cr CrossrefSearcher) *Matcher {
	return &Matcher{openalex: oa, crossref: cr, perStep: 10}
}

// candidate is one work found by the search, tagged with the earliest step
// that produced it.
type candidate struct {
	id    string
	work  *openalex.Work
	item  *crossref.Item
	step  int
	score float64
}

// Result is a successful match: the enriched record plus the OpenAlex work
// (nil when the match came from Crossref) for the expander.
type Result struct {
	Record *domain.EnrichedReference
	Work   *openalex.Work
}

// Match returns the best-scoring candidate for ref, or nil when no
// candidate scores above zero. A failing search step is logged and treated
// as empty; it never aborts the search.
func (m *Matcher) Match(ctx context.Context, ref *domain.Reference) (*Result, error) {
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		return nil, nil
	}
	container := strings.TrimSpace(ref.Source)
	year := 0
	if ref.Year != nil {
		year = *ref.Year
	}

	seen := map[string]*candidate{}
	var order []*candidate
	add := func(step int, works []openalex.Work, items []crossref.Item) {
		for i := range works {
			id := normalize.OpenAlexID(works[i].ID)
			if id == "" || seen[id] != nil {
				continue
			}
			c := &candidate{id: id, work: &works[i], step: step}
			seen[id] = c
			order = append(order, c)
		}
		for i := range items {
			id := "doi:" + normalize.DOIKey(items[i].DOI)
			if id == "doi:" || seen[id] != nil {
				continue
			}
			c := &candidate{id: id, item: &items[i], step: step}
			seen[id] = c
			order = append(order, c)
		}
	}

	for step := 1; step <= 9; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		works, items, err := m.runStep(ctx, step, title, container, year)
		if err != nil {
			log.Printf("match step %d failed for %q: %v", step, title, err)
			continue
		}
		add(step, works, items)
	}
	if len(order) == 0 {
		return nil, nil
	}

	persons := referencePersons(ref)
	for _, c := range order {
		c.score = scoreAuthors(persons, candidateAuthors(c))
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].step < order[j].step
	})

	best := order[0]
	if best.score <= 0 {
		return nil, nil
	}
	return m.buildResult(ref, best), nil
}

// runStep executes one search strategy. Steps 1-7 and 9 hit OpenAlex,
// step 8 hits Crossref.
func (m *Matcher) runStep(ctx context.Context, step int, title, container string, year int) ([]openalex.Work, []crossref.Item, error) {
	switch step {
	case 1:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(exactTitleFilter(title), container, year), m.perStep)
		return works, nil, err
	case 2:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(phraseTitleFilter(title), container, year), m.perStep)
		return works, nil, err
	case 3:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(tokenTitleFilter(title), container, year), m.perStep)
		return works, nil, err
	case 4:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(exactTitleFilter(title), container, 0), m.perStep)
		return works, nil, err
	case 5:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(phraseTitleFilter(title), container, 0), m.perStep)
		return works, nil, err
	case 6:
		works, err := m.openalex.FilterWorks(ctx, buildFilter(tokenTitleFilter(title), container, 0), m.perStep)
		return works, nil, err
	case 7:
		works, err := m.openalex.SearchWorks(ctx, title, m.perStep)
		return works, nil, err
	case 8:
		if m.crossref == nil {
			return nil, nil, nil
		}
		items, err := m.crossref.QueryWorks(ctx, crossref.WorksQuery{
			Title:     title,
			Container: container,
			Year:      year,
			Rows:      m.perStep,
		})
		return nil, items, err
	case 9:
		if container == "" {
			return nil, nil, nil
		}
		works, err := m.openalex.SearchWorks(ctx, container, m.perStep)
		return works, nil, err
	}
	return nil, nil, nil
}

// OpenAlex filter values cannot carry commas (the filter separator) or
// colons; drop them rather than risk a malformed query.
func filterValue(s string) string {
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, ":", " ")
	return strings.Join(strings.Fields(s), " ")
}

func exactTitleFilter(title string) string {
	return "display_name:" + filterValue(title)
}

func phraseTitleFilter(title string) string {
	return fmt.Sprintf("title.search:%q", filterValue(title))
}

func tokenTitleFilter(title string) string {
	return "title.search:" + filterValue(title)
}

func buildFilter(titlePart, container string, year int) string {
	parts := []string{titlePart}
	if container != "" {
		parts = append(parts, "locations.source.display_name.search:"+filterValue(container))
	}
	if year > 0 {
		parts = append(parts, fmt.Sprintf("publication_year:%d", year))
	}
	return strings.Join(parts, ",")
}

// referencePersons collects the reference's authors plus any editors carried
// in the preserved BibTeX entry; editors may match any candidate author
// position.
func referencePersons(ref *domain.Reference) []string {
	persons := append([]string{}, ref.Authors...)
	if len(ref.BibtexEntryJSON) > 0 {
		var fields map[string]string
		if err := json.Unmarshal(ref.BibtexEntryJSON, &fields); err == nil {
			if editors := fields["editor"]; editors != "" {
				for _, e := range strings.Split(editors, " and ") {
					if e = strings.TrimSpace(e); e != "" {
						persons = append(persons, e)
					}
				}
			}
		}
	}
	return persons
}

func candidateAuthors(c *candidate) []string {
	if c.work != nil {
		return c.work.AuthorNames()
	}
	return c.item.AuthorNames()
}

// buildResult converts the accepted candidate into the enriched record.
func (m *Matcher) buildResult(ref *domain.Reference, best *candidate) *Result {
	if best.work != nil {
		w := best.work
		enr := &domain.EnrichedReference{Reference: domain.Reference{
			Title:      w.BestTitle(),
			Authors:    w.AuthorNames(),
			DOI:        w.DOI,
			OpenAlexID: normalize.OpenAlexID(w.ID),
			EntryType:  w.Type,
			Source:     w.Container(),
			Abstract:   w.AbstractText(),
			Keywords:   w.KeywordNames(),
			Language:   w.Language,
			URL:        w.PDFURL(),
			RawJSON:    w.Raw,
		}}
		if w.PublicationYear > 0 {
			y := w.PublicationYear
			enr.Year = &y
		}
		return &Result{Record: enr, Work: w}
	}

	item := best.item
	enr := &domain.EnrichedReference{Reference: domain.Reference{
		Title:     item.BestTitle(),
		Authors:   item.AuthorNames(),
		DOI:       item.DOI,
		EntryType: item.Type,
		Source:    item.Container(),
		Volume:    item.Volume,
		Issue:     item.Issue,
		Pages:     item.Page,
		Publisher: item.Publisher,
		URL:       item.URL,
		Abstract:  item.Abstract,
		RawJSON:   item.Raw,
	}}
	if len(item.ISSN) > 0 {
		enr.ISSN = item.ISSN[0]
	}
	if len(item.ISBN) > 0 {
		enr.ISBN = item.ISBN[0]
	}
	if y := item.Year(); y > 0 {
		enr.Year = &y
	}
	return &Result{Record: enr}
}
