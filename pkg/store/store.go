// Package store persists decoded tables as parquet files, one file per
// artifact, one subdirectory per wave. Parquet keeps column types and the
// missing-value mask intact across a write/read round trip.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/surveydata/connector-nhanes/pkg/table"
	"github.com/surveydata/connector-nhanes/pkg/wave"
)

// Ext is the artifact file extension.
const Ext = ".parquet"

// NotFoundError is returned by Read when neither the wave-suffixed nor the
// plain artifact exists. Both attempted paths are reported so the caller
// can recover manually.
type NotFoundError struct {
	Tried [2]string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset not found: tried %s and %s", e.Tried[0], e.Tried[1])
}

// ArtifactName returns the on-disk filename for (stem, letter, isLabel).
// letter 0 omits the wave-letter suffix.
func ArtifactName(stem string, letter rune, isLabel bool) string {
	name := stem
	if letter != 0 {
		name += "_" + string(letter)
	}
	if isLabel {
		name += "_label"
	}
	return name + Ext
}

// Write persists t under waveDir. The stem is used as written: stems
// derived from remote filenames already carry their wave-letter suffix.
// The write is atomic: a temporary file is promoted by rename only after a
// complete, successful write.
func Write(t *table.Table, waveDir, stem string, isLabel bool) error {
	path := filepath.Join(waveDir, ArtifactName(stem, 0, isLabel))
	tmp := path + ".tmp"

	md := make([]string, t.NumCols())
	for j, c := range t.Columns() {
		if c.IsString() {
			md[j] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c.Name)
		} else {
			md[j] = fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", c.Name)
		}
	}

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return err
	}
	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rec := make([]*string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns() {
			rec[j] = cellString(c, i)
		}
		if err := pw.WriteString(rec); err != nil {
			fw.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return err
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	log.Debug().Str("path", path).Int("rows", t.NumRows()).Int("cols", t.NumCols()).Msg("stored dataset")
	return nil
}

func cellString(c *table.Column, i int) *string {
	if c.IsMissing(i) {
		return nil
	}
	if c.IsString() {
		vals, _, _ := c.AsString()
		s := vals[i]
		return &s
	}
	vals, _, _ := c.AsFloat64()
	s := strconv.FormatFloat(vals[i], 'g', -1, 64)
	return &s
}

// Read loads a stored dataset for the given wave. Lookups prefer the
// wave-suffixed artifact ({stem}_{letter}) over the plain one ({stem});
// the first wave's source files usually have no suffix.
func Read(dataDir string, startYear int, stem string, isLabel bool) (*table.Table, error) {
	letter, err := wave.Letter(startYear)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(dataDir, wave.DirName(startYear))

	suffixed := filepath.Join(dir, ArtifactName(stem, letter, isLabel))
	plain := filepath.Join(dir, ArtifactName(stem, 0, isLabel))
	for _, path := range []string{suffixed, plain} {
		if _, err := os.Stat(path); err == nil {
			return readParquet(path)
		}
	}
	return nil, &NotFoundError{Tried: [2]string{suffixed, plain}}
}

// readParquet reads every column of a flat parquet file; definition levels
// carry the missing-value mask.
func readParquet(path string) (*table.Table, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer pr.ReadStop()

	nrows := pr.GetNumRows()
	t := table.New()

	// Footer schema: element 0 is the root, the rest are the leaves in
	// write order. The library capitalizes field names on write, so they
	// are lower-cased on the way back out; every stored name is
	// lower-case by construction.
	elems := pr.Footer.Schema
	root := elems[0].Name
	for _, el := range elems[1:] {
		vals, _, dls, err := pr.ReadColumnByPath(common.ReformPathStr(root+"."+el.Name), nrows)
		if err != nil {
			return nil, fmt.Errorf("%s: column %s: %w", path, el.Name, err)
		}
		col, err := rebuildColumn(el, vals, dls, int(nrows))
		if err != nil {
			return nil, fmt.Errorf("%s: column %s: %w", path, el.Name, err)
		}
		if err := t.AppendColumn(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func rebuildColumn(el *parquet.SchemaElement, vals []interface{}, dls []int32, nrows int) (*table.Column, error) {
	// Null cells may appear as nil entries in vals or be compacted out of
	// it entirely; align on the definition levels either way.
	full := make([]interface{}, nrows)
	if len(vals) == nrows {
		copy(full, vals)
	} else {
		k := 0
		for i := 0; i < nrows && k < len(vals); i++ {
			if dls[i] > 0 {
				full[i] = vals[k]
				k++
			}
		}
	}

	miss := make([]bool, nrows)
	for i := 0; i < nrows; i++ {
		miss[i] = dls[i] == 0 || full[i] == nil
	}

	if el.Type != nil && *el.Type == parquet.Type_DOUBLE {
		out := make([]float64, nrows)
		for i := 0; i < nrows; i++ {
			if miss[i] {
				continue
			}
			v, ok := full[i].(float64)
			if !ok {
				return nil, fmt.Errorf("cell %d holds %T, want float64", i, full[i])
			}
			out[i] = v
		}
		return table.NewFloatColumn(strings.ToLower(el.Name), out, miss)
	}

	out := make([]string, nrows)
	for i := 0; i < nrows; i++ {
		if miss[i] {
			continue
		}
		v, ok := full[i].(string)
		if !ok {
			return nil, fmt.Errorf("cell %d holds %T, want string", i, full[i])
		}
		out[i] = v
	}
	return table.NewStringColumn(strings.ToLower(el.Name), out, miss)
}
