// Package mortality decodes the NCHS public-use linked mortality file that
// accompanies each NHANES wave. The file is fixed-width and carries no
// schema of its own, so the column layout is embedded here verbatim. The
// literal token "." marks a missing value.
package mortality

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/surveydata/connector-nhanes/pkg/table"
)

// DecodeError is returned for empty or structurally inconsistent mortality
// files.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "mortality decode: " + e.Reason
}

// field types
const (
	numField = iota
	strField
)

// field is one column of the fixed-width layout. Start and End are
// 1-indexed inclusive column positions.
type field struct {
	Name  string
	Start int
	End   int
	Type  int
	Label string
}

// schema is the fixed 14-field layout of the public-use linked mortality
// file (2015 release). It is versioned with the file format, not derived
// from it.
var schema = []field{
	{"seqn", 1, 5, numField, "NHANES respondent sequence number"},
	{"eligstat", 15, 15, numField, "Eligibility status for mortality follow-up"},
	{"mortstat", 16, 16, numField, "Final mortality status"},
	{"causeavl", 17, 17, numField, "Cause of death data available"},
	{"ucod_leading", 18, 20, strField, "Underlying leading cause of death"},
	{"diabetes", 21, 21, numField, "Diabetes flag from multiple cause of death"},
	{"hyperten", 22, 22, numField, "Hypertension flag from multiple cause of death"},
	{"mortsrce_ndi", 28, 28, numField, "Mortality source: NDI match"},
	{"mortsrce_cms", 29, 29, numField, "Mortality source: CMS information"},
	{"mortsrce_ssa", 30, 30, numField, "Mortality source: SSA information"},
	{"mortsrce_dc", 31, 31, numField, "Mortality source: death certificate match"},
	{"mortsrce_dcl", 32, 32, numField, "Mortality source: data collection"},
	{"permth_int", 33, 35, numField, "Person months of follow-up from interview"},
	{"permth_exm", 36, 38, numField, "Person months of follow-up from MEC exam"},
}

// maxColumn is the deepest column position any field reads.
var maxColumn = func() int {
	m := 0
	for _, f := range schema {
		if f.End > m {
			m = f.End
		}
	}
	return m
}()

// Decode parses a mortality file into one data table and one label table.
func Decode(r io.Reader) (*table.Table, *table.Table, error) {
	floats := make([][]float64, len(schema))
	strs := make([][]string, len(schema))
	miss := make([][]bool, len(schema))

	nrows := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < maxColumn {
			return nil, nil, &DecodeError{Reason: fmt.Sprintf("record %d is %d columns wide, schema needs %d", nrows+1, len(line), maxColumn)}
		}
		for j, f := range schema {
			tok := strings.TrimSpace(line[f.Start-1 : f.End])
			missing := tok == "" || tok == "."
			if f.Type == strField {
				strs[j] = append(strs[j], tok)
				miss[j] = append(miss[j], missing)
				continue
			}
			var v float64
			if !missing {
				parsed, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, nil, &DecodeError{Reason: fmt.Sprintf("record %d field %s: bad numeric %q", nrows+1, f.Name, tok)}
				}
				v = parsed
			}
			floats[j] = append(floats[j], v)
			miss[j] = append(miss[j], missing)
		}
		nrows++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if nrows == 0 {
		return nil, nil, &DecodeError{Reason: "empty file"}
	}

	cols := make([]*table.Column, len(schema))
	for j, f := range schema {
		var c *table.Column
		var err error
		if f.Type == strField {
			c, err = table.NewStringColumn(f.Name, strs[j], miss[j])
		} else {
			c, err = table.NewFloatColumn(f.Name, floats[j], miss[j])
		}
		if err != nil {
			return nil, nil, err
		}
		cols[j] = c
	}
	data, err := table.FromColumns(cols)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, len(schema))
	descs := make([]string, len(schema))
	for j, f := range schema {
		names[j] = f.Name
		descs[j] = f.Label
	}
	labels, err := table.NewLabelTable(names, descs)
	if err != nil {
		return nil, nil, err
	}
	return data, labels, nil
}
