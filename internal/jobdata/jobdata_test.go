// File: internal/jobdata/jobdata_test.go
package jobdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

const postingHTML = `<html><body>
<h2 class="posting-title">Senior Backend Engineer</h2>
<div class="company">Acme Robotics</div>
<span class="location">Remote, US</span><span class="location">Austin, TX</span><span class="location">Remote, US</span>
<div class="description">
  <p>We build <b>robots</b>.</p>
  <script>alert('x')</script>
  <ul><li>Go</li><li>Postgres</li></ul>
</div>
</body></html>`

func TestScrape(t *testing.T) {
	snap, err := dom.ParseSnapshotString(postingHTML, "https://jobs.example.test/acme/1")
	require.NoError(t, err)

	d, err := NewScraper().Scrape(snap, Selectors{
		Title:       "//h2[@class='posting-title']",
		Company:     "//div[@class='company']",
		Location:    "//span[@class='location']",
		Description: "//div[@class='description']",
	})
	require.NoError(t, err)

	assert.Equal(t, "Senior Backend Engineer", d.Title)
	assert.Equal(t, "Acme Robotics", d.Company)
	assert.Equal(t, []string{"Remote, US", "Austin, TX"}, d.Locations)
	assert.Equal(t, "Remote, US; Austin, TX", d.Location())
	assert.Contains(t, d.Description, "**robots**")
	assert.Contains(t, d.Description, "- Go")
	assert.NotContains(t, d.Description, "alert")
	assert.Equal(t, "https://jobs.example.test/acme/1", d.URL)
	assert.False(t, d.Empty())
}

func TestScrapeMissingSelectors(t *testing.T) {
	snap, err := dom.ParseSnapshotString(`<html><body><p>nothing</p></body></html>`, "")
	require.NoError(t, err)
	d, err := NewScraper().Scrape(snap, Selectors{Title: "//h1"})
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestFields(t *testing.T) {
	d := Details{
		Title:     "Engineer",
		Locations: []string{"Berlin"},
		Extra:     map[string]string{"Team": "Platform", "Commitment": "Full-time", "Empty": " "},
	}
	assert.Equal(t, [][2]string{
		{"Job Title", "Engineer"},
		{"Job Location", "Berlin"},
		{"Commitment", "Full-time"},
		{"Team", "Platform"},
	}, d.Fields())
}
