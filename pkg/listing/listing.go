// Package listing resolves the set of remote files available for a wave.
// It supports two strategies: parsing a line-oriented directory listing
// (data and mortality roots) and parsing the HTML catalog page that indexes
// every published file across all waves.
package listing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Extensions of interest in a directory listing. Free-text description
// files (.txt and friends) are ignored.
const (
	ExtTransport  = ".xpt"
	ExtFixedWidth = ".dat"
)

// Entry describes one remote file from a directory listing.
type Entry struct {
	Size  int64  `json:"size"`
	Month string `json:"month"`
	Day   int    `json:"day"`
	Year  string `json:"year"` // year or HH:MM for recent files, as listed
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// Ext returns the lower-cased extension of the entry's filename.
func (e Entry) Ext() string {
	i := strings.LastIndex(e.Name, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(e.Name[i:])
}

// Stem returns the lower-cased filename without its extension.
func (e Entry) Stem() string {
	name := strings.ToLower(e.Name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

// ParseError is returned when a listing row that should describe a relevant
// file cannot be tokenized.
type ParseError struct {
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse listing line: %q", e.Line)
}

// relevantExt reports whether name ends in one of the file types the
// pipeline consumes.
func relevantExt(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ExtTransport) || strings.HasSuffix(n, ExtFixedWidth)
}

// ParseDirListing splits a raw directory listing into entries, keeping only
// transport and fixed-width files whose names contain nameFilter
// (case-insensitive). An empty or non-matching listing yields an empty
// slice, not an error. remoteRoot is used to resolve each entry's download
// URL.
func ParseDirListing(text, remoteRoot, nameFilter string) ([]Entry, error) {
	var entries []Entry
	filter := strings.ToLower(nameFilter)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		name := fields[len(fields)-1]
		if !relevantExt(name) {
			// headers, subdirectories, description files
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		// unix-style listing: ... size month day year name
		if len(fields) < 5 {
			return nil, &ParseError{Line: line}
		}
		size, err := strconv.ParseInt(fields[len(fields)-5], 10, 64)
		if err != nil {
			return nil, &ParseError{Line: line}
		}
		day, err := strconv.Atoi(fields[len(fields)-3])
		if err != nil {
			return nil, &ParseError{Line: line}
		}
		entries = append(entries, Entry{
			Size:  size,
			Month: fields[len(fields)-4],
			Day:   day,
			Year:  fields[len(fields)-2],
			Name:  name,
			URL:   joinURL(remoteRoot, name),
		})
	}
	return entries, nil
}

// List fetches the directory listing at remoteRoot and parses it. A
// missing match is an empty result; only transfer and tokenization problems
// are errors.
func List(ctx context.Context, client *http.Client, remoteRoot, nameFilter string) ([]Entry, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteRoot, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", remoteRoot, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing %s: unexpected status %s", remoteRoot, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", remoteRoot, err)
	}
	entries, err := ParseDirListing(string(body), remoteRoot, nameFilter)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("root", remoteRoot).Str("filter", nameFilter).Int("files", len(entries)).Msg("resolved listing")
	return entries, nil
}

// joinURL appends name to root without doubling separators; relative roots
// (as used in tests) are handled the same way as absolute ones.
func joinURL(root, name string) string {
	u, err := url.Parse(root)
	if err != nil {
		return strings.TrimRight(root, "/") + "/" + name
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + name
	return u.String()
}
