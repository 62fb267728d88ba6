package listing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// CatalogEntry describes one row of the HTML catalog page, which indexes
// every published file across all waves. Each row carries a documentation
// page and a data download link; the two are published as separate link
// sets and are joined on the lower-cased filename stem.
type CatalogEntry struct {
	FileID    string `json:"file_id"`
	StartYear int    `json:"start_year"`
	EndYear   int    `json:"end_year"`
	DocURL    string `json:"doc_url,omitempty"`
	DataURL   string `json:"data_url"`

	// MultiWave marks files whose span covers more than one two-year
	// cycle (end year minus start year > 1).
	MultiWave bool `json:"multi_wave"`
}

var yearSpanRe = regexp.MustCompile(`(\d{4})\s*-\s*(\d{4})`)

// linkStem derives the case-insensitive join key from a hyperlink: the
// base filename with its extension removed, lower-cased.
func linkStem(href string) string {
	base := href
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}

// ParseCatalog extracts the catalog entries from the results table of the
// catalog page. Rows without a data download link are skipped; a page with
// no results table yields an empty result.
func ParseCatalog(r io.Reader) ([]CatalogEntry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Line: err.Error()}
	}

	// The documentation and data links are joined by filename stem, not
	// by cell position, so collect them in one pass per row.
	var entries []CatalogEntry
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		docLinks := map[string]string{}
		dataLinks := map[string]string{}
		row.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			switch {
			case strings.HasSuffix(strings.ToLower(href), ".htm"),
				strings.HasSuffix(strings.ToLower(href), ".html"):
				docLinks[linkStem(href)] = href
			case relevantExt(href), strings.HasSuffix(strings.ToLower(href), ".zip"):
				dataLinks[linkStem(href)] = href
			}
		})
		if len(dataLinks) == 0 {
			return
		}

		id := strings.TrimSpace(row.Find("td").First().Text())
		start, end := 0, 0
		if m := yearSpanRe.FindStringSubmatch(row.Text()); m != nil {
			start, _ = strconv.Atoi(m[1])
			end, _ = strconv.Atoi(m[2])
		}

		for stem, dataURL := range dataLinks {
			entries = append(entries, CatalogEntry{
				FileID:    id,
				StartYear: start,
				EndYear:   end,
				DocURL:    docLinks[stem],
				DataURL:   dataURL,
				MultiWave: end-start > 1,
			})
		}
	})
	return entries, nil
}

// Catalog fetches and parses the HTML catalog page at url.
func Catalog(ctx context.Context, client *http.Client, url string) ([]CatalogEntry, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog %s: unexpected status %s", url, resp.Status)
	}
	entries, err := ParseCatalog(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", url).Int("files", len(entries)).Msg("resolved catalog")
	return entries, nil
}
