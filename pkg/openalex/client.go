// Package openalex is a client for the OpenAlex works API.
// OpenAlex is free and fast with the polite pool, and exposes the
// referenced_works / cited_by graph the expander walks.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/biblioflow/backend/internal/ratelimit"
)

const baseURL = "https://api.openalex.org"

// Client is an OpenAlex API client shared by the matcher and the expander.
type Client struct {
	httpClient *http.Client
	email      string // polite pool contact
	limiter    *ratelimit.Limiter
	maxRetries uint64
}

// NewClient creates an OpenAlex client. A contact email opts requests into
// the faster "polite pool". limiter may be nil (tests).
func NewClient(email string, limiter *ratelimit.Limiter) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		email:      email,
		limiter:    limiter,
		maxRetries: 3,
	}
}

// --- OpenAlex API response types ---

type listResponse struct {
	Meta struct {
		Count   int `json:"count"`
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	} `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

// Work is one OpenAlex work record, carrying only the fields the pipeline
// reads. Raw holds the provider's response bytes for verbatim persistence.
type Work struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	PublicationYear       int              `json:"publication_year"`
	Type                  string           `json:"type"`
	Language              string           `json:"language"`
	CitedByCount          int              `json:"cited_by_count"`
	CitedByAPIURL         string           `json:"cited_by_api_url"`
	Authorships           []Authorship     `json:"authorships"`
	PrimaryLocation       *Location        `json:"primary_location"`
	BestOALocation        *Location        `json:"best_oa_location"`
	OpenAccess            *OpenAccess      `json:"open_access"`
	ReferencedWorks       []string         `json:"referenced_works"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Keywords              []Keyword        `json:"keywords"`

	Raw json.RawMessage `json:"-"`
}

type Authorship struct {
	AuthorPosition string `json:"author_position"`
	Author         struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Orcid       string `json:"orcid"`
	} `json:"author"`
}

type Location struct {
	IsOA           bool    `json:"is_oa"`
	LandingPageURL string  `json:"landing_page_url"`
	PDFURL         string  `json:"pdf_url"`
	Source         *Source `json:"source"`
}

type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

type OpenAccess struct {
	IsOA     bool   `json:"is_oa"`
	OAStatus string `json:"oa_status"`
	OAURL    string `json:"oa_url"`
}

type Keyword struct {
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
}

// AuthorNames returns the authorship display names in order.
func (w *Work) AuthorNames() []string {
	names := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			names = append(names, strings.TrimSpace(a.Author.DisplayName))
		}
	}
	return names
}

// KeywordNames returns the keyword display names in order.
func (w *Work) KeywordNames() []string {
	names := make([]string, 0, len(w.Keywords))
	for _, k := range w.Keywords {
		if k.DisplayName != "" {
			names = append(names, k.DisplayName)
		}
	}
	return names
}

// Container returns the journal or host venue display name.
func (w *Work) Container() string {
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		return w.PrimaryLocation.Source.DisplayName
	}
	return ""
}

// BestTitle prefers title over display_name; OpenAlex populates either.
func (w *Work) BestTitle() string {
	if w.Title != "" {
		return w.Title
	}
	return w.DisplayName
}

// PDFURL returns the best open-access PDF URL known to OpenAlex, or "".
func (w *Work) PDFURL() string {
	if w.BestOALocation != nil && w.BestOALocation.PDFURL != "" {
		return w.BestOALocation.PDFURL
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.PDFURL != "" {
		return w.PrimaryLocation.PDFURL
	}
	if w.OpenAccess != nil && w.OpenAccess.OAURL != "" {
		return w.OpenAccess.OAURL
	}
	return ""
}

// AbstractText rebuilds the plain-text abstract from OpenAlex's inverted
// index format, {"word": [position1, position2], ...}.
func (w *Work) AbstractText() string {
	if len(w.AbstractInvertedIndex) == 0 {
		return ""
	}

	maxPos := 0
	for _, positions := range w.AbstractInvertedIndex {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}

	words := make([]string, maxPos+1)
	for word, positions := range w.AbstractInvertedIndex {
		for _, pos := range positions {
			if pos >= 0 && pos <= maxPos {
				words[pos] = word
			}
		}
	}

	var sb strings.Builder
	for _, word := range words {
		if word != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(word)
		}
	}
	return sb.String()
}

// FilterWorks queries /works with an OpenAlex filter expression, e.g.
// `title.search:"the nature of the firm",publication_year:1937`.
func (c *Client) FilterWorks(ctx context.Context, filter string, perPage int) ([]Work, error) {
	params := url.Values{}
	params.Set("filter", filter)
	return c.listWorks(ctx, params, perPage)
}

// SearchWorks queries /works with free-text relevance search.
func (c *Client) SearchWorks(ctx context.Context, query string, perPage int) ([]Work, error) {
	params := url.Values{}
	params.Set("search", query)
	return c.listWorks(ctx, params, perPage)
}

func (c *Client) listWorks(ctx context.Context, params url.Values, perPage int) ([]Work, error) {
	if perPage <= 0 {
		perPage = 25
	}
	if perPage > 100 {
		perPage = 100
	}
	params.Set("per_page", fmt.Sprintf("%d", perPage))

	body, err := c.get(ctx, fmt.Sprintf("%s/works?%s", baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}
	return decodeList(body)
}

// GetWork fetches a single work by its W id.
func (c *Client) GetWork(ctx context.Context, id string) (*Work, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/works/%s", baseURL, url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	var w Work
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("parse work: %w", err)
	}
	w.Raw = body
	return &w, nil
}

// CitedBy fetches one page of works citing the given work. Pages are
// 1-based, 100 results each; the second return value reports whether more
// pages remain.
func (c *Client) CitedBy(ctx context.Context, citedByAPIURL string, page int) ([]Work, bool, error) {
	if page < 1 {
		page = 1
	}
	u, err := url.Parse(citedByAPIURL)
	if err != nil {
		return nil, false, fmt.Errorf("cited_by url: %w", err)
	}
	q := u.Query()
	q.Set("per_page", "100")
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, false, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("parse cited_by page: %w", err)
	}
	works, err := decodeWorks(resp.Results)
	if err != nil {
		return nil, false, err
	}
	more := resp.Meta.Count > page*100
	return works, more, nil
}

func decodeList(body []byte) ([]Work, error) {
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return decodeWorks(resp.Results)
}

// decodeWorks parses each list result, keeping the original message bytes
// on Work.Raw so callers persist the provider payload without a re-encode
// dropping unmodeled fields.
func decodeWorks(raws []json.RawMessage) ([]Work, error) {
	works := make([]Work, 0, len(raws))
	for _, raw := range raws {
		var w Work
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("parse work: %w", err)
		}
		w.Raw = raw
		works = append(works, w)
	}
	return works, nil
}

// get performs one GET with politeness headers, rate limiting, and bounded
// exponential backoff for transient failures (timeouts, 5xx, 429). A 4xx
// other than 429 is terminal.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if c.email != "" {
		sep := "&"
		if !strings.Contains(reqURL, "?") {
			sep = "?"
		}
		reqURL += sep + "mailto=" + url.QueryEscape(c.email)
	}

	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx, 0)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		ua := "biblioflow/1.0"
		if c.email != "" {
			ua = fmt.Sprintf("biblioflow/1.0 (mailto:%s)", c.email)
		}
		req.Header.Set("User-Agent", ua)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("OpenAlex request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("OpenAlex returned status %d", resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("OpenAlex returned status %d: %s", resp.StatusCode, b))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
