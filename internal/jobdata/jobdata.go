// File: internal/jobdata/jobdata.go

// Package jobdata extracts the job posting a form belongs to, so answers can
// be tailored to it.
package jobdata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

// Details describes one job posting.
type Details struct {
	ID        string   `json:"jobId,omitempty"`
	Title     string   `json:"title,omitempty"`
	Company   string   `json:"company,omitempty"`
	Locations []string `json:"locations,omitempty"`
	// Description is markdown.
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Location joins every location.
func (d Details) Location() string { return strings.Join(d.Locations, "; ") }

// Empty reports whether nothing was scraped.
func (d Details) Empty() bool {
	return d.Title == "" && d.Description == "" && len(d.Locations) == 0
}

// Fields returns the main fields in prompt order followed by the extra
// fields sorted by key.
func (d Details) Fields() [][2]string {
	var out [][2]string
	add := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, [2]string{k, v})
		}
	}
	add("Job Title", d.Title)
	add("Job Description", d.Description)
	add("Job Location", d.Location())
	add("Company", d.Company)
	keys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, d.Extra[k])
	}
	return out
}

// Selectors are the XPaths a platform uses for its posting. Locations may
// match several elements.
type Selectors struct {
	Title       string
	Company     string
	Location    string
	Description string
}

// Scraper converts posting markup into Details.
type Scraper struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewScraper builds a scraper with a UGC sanitising policy and a
// commonmark converter.
func NewScraper() *Scraper {
	return &Scraper{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Scrape reads a posting from a snapshot.
func (s *Scraper) Scrape(snap *dom.Snapshot, sel Selectors) (Details, error) {
	d := Details{URL: snap.URL}
	if el, ok := find(snap, sel.Title); ok {
		d.Title = el.Text()
	}
	if el, ok := find(snap, sel.Company); ok {
		d.Company = el.Text()
	}
	if sel.Location != "" {
		seen := make(map[string]bool)
		for _, el := range snap.FindAll(sel.Location) {
			loc := strings.TrimSpace(el.Text())
			if loc != "" && !seen[loc] {
				seen[loc] = true
				d.Locations = append(d.Locations, loc)
			}
		}
	}
	if el, ok := find(snap, sel.Description); ok {
		md, err := s.Markdown(outerHTML(el.Node))
		if err != nil {
			return d, fmt.Errorf("converting description: %w", err)
		}
		d.Description = md
	}
	return d, nil
}

// Markdown sanitises raw HTML and converts it to markdown.
func (s *Scraper) Markdown(raw string) (string, error) {
	clean := s.policy.Sanitize(raw)
	md, err := s.md.ConvertString(clean)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

func find(snap *dom.Snapshot, xpath string) (dom.Element, bool) {
	if xpath == "" {
		return dom.Element{}, false
	}
	return snap.Find(xpath)
}

func outerHTML(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}
