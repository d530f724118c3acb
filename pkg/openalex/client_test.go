package openalex

import (
	"strings"
	"testing"
)

func TestDecodeListKeepsRawPayload(t *testing.T) {
	// The grants field is not modeled on Work; it must still survive in
	// Raw for persistence.
	body := []byte(`{
		"meta": {"count": 1, "page": 1, "per_page": 25},
		"results": [{
			"id": "https://openalex.org/W1",
			"title": "Some Work",
			"grants": [{"funder": "https://openalex.org/F4320306076"}]
		}]
	}`)

	works, err := decodeList(body)
	if err != nil {
		t.Fatalf("decodeList: %v", err)
	}
	if len(works) != 1 {
		t.Fatalf("decoded %d works", len(works))
	}
	if works[0].Title != "Some Work" {
		t.Errorf("title = %q", works[0].Title)
	}
	if !strings.Contains(string(works[0].Raw), "F4320306076") {
		t.Errorf("raw payload lost unmodeled fields: %s", works[0].Raw)
	}
}

func TestAbstractText(t *testing.T) {
	w := &Work{AbstractInvertedIndex: map[string][]int{
		"the":  {0, 2},
		"firm": {3},
		"and":  {1},
	}}
	if got := w.AbstractText(); got != "the and the firm" {
		t.Errorf("abstract = %q", got)
	}
}
