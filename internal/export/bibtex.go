package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nickng/bibtex"

	"github.com/biblioflow/backend/internal/domain"
)

// WriteBibTeX renders the references as a .bib file.
func WriteBibTeX(w io.Writer, refs []*domain.EnrichedReference) error {
	bib := bibtex.NewBibTex()
	keys := map[string]int{}

	for _, ref := range refs {
		entry := bibtex.NewBibEntry(bibEntryType(ref.EntryType), citeKey(ref, keys))
		setField(entry, "title", ref.Title)
		setField(entry, "author", strings.Join(ref.Authors, " and "))
		if ref.Year != nil {
			setField(entry, "year", strconv.Itoa(*ref.Year))
		}
		setField(entry, "journal", ref.Source)
		setField(entry, "volume", ref.Volume)
		setField(entry, "number", ref.Issue)
		setField(entry, "pages", ref.Pages)
		setField(entry, "publisher", ref.Publisher)
		setField(entry, "doi", ref.DOI)
		setField(entry, "url", ref.URL)
		setField(entry, "issn", ref.ISSN)
		setField(entry, "isbn", ref.ISBN)
		setField(entry, "language", ref.Language)
		setField(entry, "keywords", strings.Join(ref.Keywords, ", "))
		setField(entry, "abstract", ref.Abstract)
		bib.AddEntry(entry)
	}

	if _, err := io.WriteString(w, bib.PrettyString()); err != nil {
		return fmt.Errorf("write bibtex: %w", err)
	}
	return nil
}

// ParseBibTeX reads a .bib file into plain references. The original entry's
// fields are preserved verbatim in BibtexEntryJSON so later stages (editor
// matching, provenance display) can reach fields the catalog schema does
// not model.
func ParseBibTeX(r io.Reader) ([]*domain.Reference, error) {
	bib, err := bibtex.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse bibtex: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(bib.Entries))
	for _, entry := range bib.Entries {
		fields := make(map[string]string, len(entry.Fields))
		for name, value := range entry.Fields {
			fields[name] = value.String()
		}

		ref := &domain.Reference{
			Title:     fields["title"],
			DOI:       fields["doi"],
			EntryType: entry.Type,
			Source:    firstNonEmpty(fields["journal"], fields["booktitle"]),
			Volume:    fields["volume"],
			Issue:     fields["number"],
			Pages:     fields["pages"],
			Publisher: fields["publisher"],
			URL:       fields["url"],
			ISBN:      fields["isbn"],
			ISSN:      fields["issn"],
			Abstract:  fields["abstract"],
			Language:  fields["language"],
		}
		if authors := fields["author"]; authors != "" {
			for _, a := range strings.Split(authors, " and ") {
				if a = strings.TrimSpace(a); a != "" {
					ref.Authors = append(ref.Authors, a)
				}
			}
		}
		if y, err := strconv.Atoi(strings.TrimSpace(fields["year"])); err == nil {
			ref.Year = &y
		}
		if kw := fields["keywords"]; kw != "" {
			for _, k := range strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ';' }) {
				if k = strings.TrimSpace(k); k != "" {
					ref.Keywords = append(ref.Keywords, k)
				}
			}
		}
		if enc, err := json.Marshal(fields); err == nil {
			ref.BibtexEntryJSON = enc
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func setField(entry *bibtex.BibEntry, name, value string) {
	if value != "" {
		entry.AddField(name, bibtex.NewBibConst(value))
	}
}

// bibEntryType maps catalog entry types onto BibTeX types, defaulting to
// article.
func bibEntryType(t string) string {
	switch strings.ToLower(t) {
	case "book", "monograph":
		return "book"
	case "book-chapter", "chapter", "incollection":
		return "incollection"
	case "proceedings-article", "conference", "inproceedings":
		return "inproceedings"
	case "dissertation", "thesis", "phdthesis":
		return "phdthesis"
	case "report", "techreport":
		return "techreport"
	case "", "article", "journal-article", "preprint", "posted-content":
		return "article"
	default:
		return "misc"
	}
}

// citeKey builds "<first author surname><year><disambiguator>".
func citeKey(ref *domain.EnrichedReference, used map[string]int) string {
	base := "anon"
	if len(ref.Authors) > 0 {
		last := strings.ToLower(lastName(ref.Authors[0]))
		var sb strings.Builder
		for _, r := range last {
			if r >= 'a' && r <= 'z' {
				sb.WriteRune(r)
			}
		}
		if sb.Len() > 0 {
			base = sb.String()
		}
	}
	if ref.Year != nil {
		base += strconv.Itoa(*ref.Year)
	}
	used[base]++
	if n := used[base]; n > 1 {
		return fmt.Sprintf("%s-%d", base, n)
	}
	return base
}

func lastName(name string) string {
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
