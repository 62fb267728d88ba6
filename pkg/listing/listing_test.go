package listing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleListing = `total 1234
drwxr-xr-x  2 ftp ftp     4096 Mar 10  2002 docs
-rw-r--r--  1 ftp ftp  3214480 Mar 10  2002 DEMO.xpt
-rw-r--r--  1 ftp ftp   764040 Jun 23  2002 BMX.XPT
-rw-r--r--  1 ftp ftp    12345 Jun 23  2002 readme.txt
-rw-r--r--  1 ftp ftp   408960 Jan 05 14:02 NHANES_1999_2000_MORT_2019_PUBLIC.dat
`

func TestParseDirListing(t *testing.T) {
	require := require.New(t)

	entries, err := ParseDirListing(sampleListing, "https://example.test/1999-2000", "")
	require.NoError(err)
	require.Len(entries, 3, "directories and text files are skipped")

	require.Equal("DEMO.xpt", entries[0].Name)
	require.Equal(int64(3214480), entries[0].Size)
	require.Equal("Mar", entries[0].Month)
	require.Equal(10, entries[0].Day)
	require.Equal("2002", entries[0].Year)
	require.Equal("https://example.test/1999-2000/DEMO.xpt", entries[0].URL)
	require.Equal(".xpt", entries[0].Ext())
	require.Equal("demo", entries[0].Stem())

	require.Equal(".xpt", entries[1].Ext(), "extension matching is case-insensitive")
	require.Equal("14:02", entries[2].Year, "recent files list a time instead of a year")
	require.Equal(".dat", entries[2].Ext())
}

func TestParseDirListingFilter(t *testing.T) {
	require := require.New(t)

	entries, err := ParseDirListing(sampleListing, "https://example.test", "1999_2000")
	require.NoError(err)
	require.Len(entries, 1)
	require.Equal("nhanes_1999_2000_mort_2019_public", entries[0].Stem())

	entries, err = ParseDirListing(sampleListing, "https://example.test", "demo")
	require.NoError(err)
	require.Len(entries, 1)
}

func TestParseDirListingEmpty(t *testing.T) {
	require := require.New(t)

	entries, err := ParseDirListing("", "https://example.test", "")
	require.NoError(err)
	require.Empty(entries)

	entries, err = ParseDirListing("total 0\n\n", "https://example.test", "")
	require.NoError(err)
	require.Empty(entries)
}

func TestParseDirListingMalformed(t *testing.T) {
	require := require.New(t)

	_, err := ParseDirListing("notasize Mar x 2002 DEMO.xpt\n", "https://example.test", "")
	var pe *ParseError
	require.True(errors.As(err, &pe))
}

func TestList(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleListing))
	}))
	defer srv.Close()

	entries, err := List(context.Background(), srv.Client(), srv.URL, "")
	require.NoError(err)
	require.Len(entries, 3)
	require.Equal(srv.URL+"/DEMO.xpt", entries[0].URL)
}

func TestListBadStatus(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := List(context.Background(), srv.Client(), srv.URL, "")
	require.Error(err)
}

const sampleCatalog = `<html><body>
<table><tbody>
<tr>
  <td>Demographic Variables</td>
  <td>1999-2000</td>
  <td><a href="/Nchs/Nhanes/1999-2000/DEMO.htm">DEMO Doc</a></td>
  <td><a href="/Nchs/Nhanes/1999-2000/DEMO.xpt">DEMO Data</a></td>
</tr>
<tr>
  <td>Dietary Supplement Database</td>
  <td>1999-2014</td>
  <td><a href="/Nchs/Nhanes/Dsd/DSBI.htm">DSBI Doc</a></td>
  <td><a href="/Nchs/Nhanes/Dsd/DSBI.zip">DSBI Data</a></td>
</tr>
<tr>
  <td>Withdrawn File</td>
  <td>2001-2002</td>
  <td><a href="/Nchs/Nhanes/2001-2002/XYZ.htm">XYZ Doc</a></td>
</tr>
</tbody></table>
</body></html>`

func TestParseCatalog(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCatalog))
	}))
	defer srv.Close()

	entries, err := Catalog(context.Background(), srv.Client(), srv.URL)
	require.NoError(err)
	require.Len(entries, 2, "rows without a data link are skipped")

	byID := map[string]CatalogEntry{}
	for _, e := range entries {
		byID[e.FileID] = e
	}

	demo := byID["Demographic Variables"]
	require.Equal(1999, demo.StartYear)
	require.Equal(2000, demo.EndYear)
	require.False(demo.MultiWave)
	require.Equal("/Nchs/Nhanes/1999-2000/DEMO.xpt", demo.DataURL)
	require.Equal("/Nchs/Nhanes/1999-2000/DEMO.htm", demo.DocURL)

	dsbi := byID["Dietary Supplement Database"]
	require.True(dsbi.MultiWave)
	require.Equal(2014, dsbi.EndYear)
}

func TestParseCatalogEmptyPage(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>no results</p></body></html>"))
	}))
	defer srv.Close()

	entries, err := Catalog(context.Background(), srv.Client(), srv.URL)
	require.NoError(err)
	require.Empty(entries)
}
