// Package crossref is a client for the Crossref works API, consulted as a
// secondary matcher by title/container/year.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/biblioflow/backend/internal/ratelimit"
)

const worksURL = "https://api.crossref.org/works"

type Client struct {
	httpClient *http.Client
	mailto     string
	limiter    *ratelimit.Limiter
	maxRetries uint64
}

// NewClient creates a Crossref client. mailto is optional; Crossref asks
// polite callers to identify themselves. limiter may be nil (tests).
func NewClient(mailto string, limiter *ratelimit.Limiter) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		mailto:     mailto,
		limiter:    limiter,
		maxRetries: 3,
	}
}

// WorksQuery is a title/container/year query against /works.
type WorksQuery struct {
	Title     string
	Container string
	Year      int
	Rows      int
}

// --- Crossref API response types ---

type worksResponse struct {
	Status  string `json:"status"`
	Message struct {
		Items []Item `json:"items"`
	} `json:"message"`
}

// Item is one Crossref work record.
type Item struct {
	DOI            string     `json:"DOI"`
	Title          []string   `json:"title"`
	ContainerTitle []string   `json:"container-title"`
	Author         []Person   `json:"author"`
	Editor         []Person   `json:"editor"`
	PublishedPrint *DateParts `json:"published-print"`
	PublishedOnly  *DateParts `json:"published"`
	Publisher      string     `json:"publisher"`
	Volume         string     `json:"volume"`
	Issue          string     `json:"issue"`
	Page           string     `json:"page"`
	ISSN           []string   `json:"ISSN"`
	ISBN           []string   `json:"ISBN"`
	Type           string     `json:"type"`
	URL            string     `json:"URL"`
	Abstract       string     `json:"abstract"`

	Raw json.RawMessage `json:"-"`
}

type Person struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

type DateParts struct {
	DateParts [][]int `json:"date-parts"`
}

// DisplayName renders "Given Family", falling back to the literal name for
// corporate authors.
func (p Person) DisplayName() string {
	if p.Family == "" && p.Given == "" {
		return p.Name
	}
	if p.Given == "" {
		return p.Family
	}
	return p.Given + " " + p.Family
}

// BestTitle returns the first title, Crossref's canonical one.
func (i *Item) BestTitle() string {
	if len(i.Title) > 0 {
		return i.Title[0]
	}
	return ""
}

// Container returns the first container-title.
func (i *Item) Container() string {
	if len(i.ContainerTitle) > 0 {
		return i.ContainerTitle[0]
	}
	return ""
}

// Year returns the publication year from whichever date Crossref filled.
func (i *Item) Year() int {
	for _, d := range []*DateParts{i.PublishedPrint, i.PublishedOnly} {
		if d != nil && len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
			return d.DateParts[0][0]
		}
	}
	return 0
}

// AuthorNames returns author display names in order.
func (i *Item) AuthorNames() []string {
	names := make([]string, 0, len(i.Author))
	for _, a := range i.Author {
		if n := a.DisplayName(); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// QueryWorks searches /works by title, container, and publication year.
func (c *Client) QueryWorks(ctx context.Context, q WorksQuery) ([]Item, error) {
	if q.Title == "" {
		return nil, fmt.Errorf("crossref query needs a title")
	}
	rows := q.Rows
	if rows <= 0 {
		rows = 10
	}

	params := url.Values{}
	params.Set("query.title", q.Title)
	if q.Container != "" {
		params.Set("query.container-title", q.Container)
	}
	if q.Year > 0 {
		params.Set("filter", fmt.Sprintf("from-pub-date:%d-01-01,until-pub-date:%d-12-31", q.Year, q.Year))
	}
	params.Set("rows", fmt.Sprintf("%d", rows))
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	body, err := c.get(ctx, worksURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp worksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	items := resp.Message.Items
	for i := range items {
		if enc, err := json.Marshal(&items[i]); err == nil {
			items[i].Raw = enc
		}
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
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
		req.Header.Set("User-Agent", "biblioflow/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("Crossref request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("Crossref returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("Crossref returned status %d", resp.StatusCode))
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
