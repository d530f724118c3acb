package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDOI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "10.1111/j.1468-0335.1937.tb00002.x", "10.1111/j.1468-0335.1937.tb00002.x"},
		{"uppercase", "10.1111/J.1468-0335.1937.TB00002.X", "10.1111/j.1468-0335.1937.tb00002.x"},
		{"https prefix", "https://doi.org/10.1111/xyz", "10.1111/xyz"},
		{"dx prefix", "http://dx.doi.org/10.1111/xyz", "10.1111/xyz"},
		{"doi colon prefix", "doi:10.1111/xyz", "10.1111/xyz"},
		{"doi colon with space", "DOI: 10.1111/xyz", "10.1111/xyz"},
		{"surrounding whitespace", "  10.1111/xyz  ", "10.1111/xyz"},
		{"garbage", "not-a-doi", ""},
		{"empty", "", ""},
		{"url without doi", "https://doi.org/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DOI(tt.in))
		})
	}
}

func TestDOIKeyCaseInsensitive(t *testing.T) {
	a := DOIKey("10.1111/J.1468-0335.1937.TB00002.X")
	b := DOIKey("https://doi.org/10.1111/j.1468-0335.1937.tb00002.x")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestOpenAlexID(t *testing.T) {
	assert.Equal(t, "W2029393004", OpenAlexID("https://openalex.org/W2029393004"))
	assert.Equal(t, "W2029393004", OpenAlexID("w2029393004"))
	assert.Equal(t, "W123", OpenAlexID("W123"))
	assert.Equal(t, "", OpenAlexID("A5017898742"))
	assert.Equal(t, "", OpenAlexID(""))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "thenatureofthefirm", Title("The Nature of the Firm"))
	assert.Equal(t, Title("The Nature of the Firm"), Title("the nature of the firm!"))
	assert.Equal(t, Title("Coase (1937): a re-appraisal"), Title("coase 1937 a reappraisal"))
	assert.Equal(t, "", Title("..."))
}

func TestAuthorsOrderMatters(t *testing.T) {
	a := Authors([]string{"R. H. Coase"})
	b := Authors([]string{"Ronald Coase"})
	assert.NotEqual(t, a, b)

	same := Authors([]string{"A. Smith", "D. Ricardo"})
	swapped := Authors([]string{"D. Ricardo", "A. Smith"})
	assert.NotEqual(t, same, swapped)

	assert.Equal(t, "", Authors(nil))
}

func TestPerson(t *testing.T) {
	tests := []struct {
		in   string
		want PersonName
	}{
		{"Coase, R. H.", PersonName{First: "R H", Last: "Coase", Initials: "RH"}},
		{"R. H. Coase", PersonName{First: "R H", Last: "Coase", Initials: "RH"}},
		{"Ronald Harry Coase", PersonName{First: "Ronald Harry", Last: "Coase", Initials: "RH"}},
		{"Coase", PersonName{Last: "Coase"}},
		{"", PersonName{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Person(tt.in), "input %q", tt.in)
	}
}
