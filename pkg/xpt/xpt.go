// Package xpt decodes SAS transport (XPORT version 5) files, the binary
// format NHANES publishes its per-topic datasets in. A transport file is a
// sequence of 80-byte records: a library header, then one or more members,
// each carrying a dataset descriptor, 140-byte per-variable NAMESTR
// entries, and fixed-width observation rows. Numerics are IBM System/360
// hexadecimal floating point and are converted to IEEE 754 on read.
package xpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/surveydata/connector-nhanes/pkg/table"
)

const (
	recordLen  = 80
	namestrLen = 140

	libraryPrefix = "HEADER RECORD*******LIBRARY HEADER RECORD!!!!!!!"
	memberPrefix  = "HEADER RECORD*******MEMBER  HEADER RECORD!!!!!!!"
	dscrptrPrefix = "HEADER RECORD*******DSCRPTR HEADER RECORD!!!!!!!"
	namestrPrefix = "HEADER RECORD*******NAMESTR HEADER RECORD!!!!!!!"
	obsPrefix     = "HEADER RECORD*******OBS     HEADER RECORD!!!!!!!"
)

// variable types in a NAMESTR entry
const (
	typeNumeric = 1
	typeChar    = 2
)

// DecodeError is returned for absent, empty, or structurally inconsistent
// transport files.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "xpt decode: " + e.Reason
}

func decodeErrf(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Payload is the decoded content of one transport file. A single source
// file may embed several logical datasets; Names preserves their file
// order. Dataset names are lower-cased. Every dataset has a companion
// label table mapping variable names to their descriptions.
type Payload struct {
	Names    []string
	Datasets map[string]*table.Table
	Labels   map[string]*table.Table
}

// Single returns the dataset and label table when the payload holds exactly
// one dataset.
func (p *Payload) Single() (*table.Table, *table.Table, bool) {
	if len(p.Names) != 1 {
		return nil, nil, false
	}
	name := p.Names[0]
	return p.Datasets[name], p.Labels[name], true
}

// variable metadata from one NAMESTR entry
type variable struct {
	name   string
	label  string
	vtype  int
	length int
	pos    int
}

// Decode reads an entire transport file from r.
func Decode(r io.Reader) (*Payload, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty file"}
	}
	if len(raw)%recordLen != 0 {
		return nil, decodeErrf("file length %d is not a multiple of %d", len(raw), recordLen)
	}
	if !bytes.HasPrefix(raw, []byte(libraryPrefix)) {
		return nil, &DecodeError{Reason: "missing library header"}
	}

	// Member boundaries: every 80-byte record starting with the member
	// header marker opens a new dataset.
	var starts []int
	for off := 0; off < len(raw); off += recordLen {
		if bytes.HasPrefix(raw[off:], []byte(memberPrefix)) {
			starts = append(starts, off)
		}
	}
	if len(starts) == 0 {
		return nil, &DecodeError{Reason: "no members in file"}
	}

	p := &Payload{
		Datasets: make(map[string]*table.Table),
		Labels:   make(map[string]*table.Table),
	}
	for i, start := range starts {
		end := len(raw)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		name, data, labels, err := decodeMember(raw[start:end])
		if err != nil {
			return nil, err
		}
		p.Names = append(p.Names, name)
		p.Datasets[name] = data
		p.Labels[name] = labels
	}
	return p, nil
}

// decodeMember parses one member segment: member header, descriptor,
// NAMESTR block, observation rows.
func decodeMember(seg []byte) (string, *table.Table, *table.Table, error) {
	rec := func(i int) []byte {
		off := i * recordLen
		if off+recordLen > len(seg) {
			return nil
		}
		return seg[off : off+recordLen]
	}

	// record 0: member header; 1: descriptor header; 2-3: member
	// descriptor (dataset name at bytes 8-16 of record 2); 4: NAMESTR
	// header carrying the variable count in columns 54-58.
	if rec(4) == nil {
		return "", nil, nil, &DecodeError{Reason: "truncated member header"}
	}
	if !bytes.HasPrefix(rec(1), []byte(dscrptrPrefix)) {
		return "", nil, nil, &DecodeError{Reason: "missing descriptor header"}
	}
	dsName := strings.ToLower(strings.TrimRight(string(rec(2)[8:16]), " "))
	if dsName == "" {
		return "", nil, nil, &DecodeError{Reason: "member has no dataset name"}
	}

	nsHeader := rec(4)
	if !bytes.HasPrefix(nsHeader, []byte(namestrPrefix)) {
		return "", nil, nil, decodeErrf("dataset %s: missing namestr header", dsName)
	}
	nvars := 0
	if _, err := fmt.Sscanf(string(nsHeader[54:58]), "%d", &nvars); err != nil || nvars <= 0 {
		return "", nil, nil, decodeErrf("dataset %s: bad variable count %q", dsName, nsHeader[54:58])
	}

	nsBytes := nvars * namestrLen
	nsRecords := (nsBytes + recordLen - 1) / recordLen
	nsStart := 5 * recordLen
	if nsStart+nsRecords*recordLen > len(seg) {
		return "", nil, nil, decodeErrf("dataset %s: truncated namestr block", dsName)
	}

	vars := make([]variable, nvars)
	rowLen := 0
	for i := 0; i < nvars; i++ {
		ns := seg[nsStart+i*namestrLen : nsStart+(i+1)*namestrLen]
		// Variable names are lower-cased so every decoder exposes the
		// subject key as "seqn" regardless of source casing.
		v := variable{
			vtype:  int(binary.BigEndian.Uint16(ns[0:2])),
			length: int(binary.BigEndian.Uint16(ns[4:6])),
			name:   strings.ToLower(strings.TrimRight(string(ns[8:16]), " ")),
			label:  decodeLabel(ns[16:56]),
			pos:    int(binary.BigEndian.Uint32(ns[84:88])),
		}
		if v.vtype != typeNumeric && v.vtype != typeChar {
			return "", nil, nil, decodeErrf("dataset %s: variable %s has unknown type %d", dsName, v.name, v.vtype)
		}
		if v.length <= 0 {
			return "", nil, nil, decodeErrf("dataset %s: variable %s has length %d", dsName, v.name, v.length)
		}
		vars[i] = v
		rowLen += v.length
	}

	obsHeaderIdx := 5 + nsRecords
	obsHeader := rec(obsHeaderIdx)
	if obsHeader == nil || !bytes.HasPrefix(obsHeader, []byte(obsPrefix)) {
		return "", nil, nil, decodeErrf("dataset %s: missing observation header", dsName)
	}
	region := seg[(obsHeaderIdx+1)*recordLen:]

	data, err := decodeObservations(dsName, vars, rowLen, region)
	if err != nil {
		return "", nil, nil, err
	}

	names := make([]string, nvars)
	descs := make([]string, nvars)
	for i, v := range vars {
		names[i] = v.name
		descs[i] = v.label
	}
	labels, err := table.NewLabelTable(names, descs)
	if err != nil {
		return "", nil, nil, err
	}
	return dsName, data, labels, nil
}

func decodeObservations(dsName string, vars []variable, rowLen int, region []byte) (*table.Table, error) {
	nrows := len(region) / rowLen
	if tail := region[nrows*rowLen:]; len(bytes.TrimRight(tail, " ")) != 0 {
		return nil, decodeErrf("dataset %s: %d trailing bytes do not form a row", dsName, len(tail))
	}
	// The observation section is space-padded to an 80-byte boundary;
	// fully blank trailing rows are padding, not data.
	for nrows > 0 {
		row := region[(nrows-1)*rowLen : nrows*rowLen]
		if len(bytes.TrimRight(row, " ")) != 0 {
			break
		}
		nrows--
	}

	floats := make([][]float64, len(vars))
	strs := make([][]string, len(vars))
	miss := make([][]bool, len(vars))
	for j, v := range vars {
		miss[j] = make([]bool, nrows)
		if v.vtype == typeNumeric {
			floats[j] = make([]float64, nrows)
		} else {
			strs[j] = make([]string, nrows)
		}
	}

	for i := 0; i < nrows; i++ {
		row := region[i*rowLen : (i+1)*rowLen]
		for j, v := range vars {
			if v.pos+v.length > rowLen {
				return nil, decodeErrf("dataset %s: variable %s at %d exceeds row width %d", dsName, v.name, v.pos, rowLen)
			}
			cell := row[v.pos : v.pos+v.length]
			if v.vtype == typeChar {
				strs[j][i] = strings.TrimRight(string(cell), " ")
				continue
			}
			val, missing, err := ibmToFloat(cell)
			if err != nil {
				return nil, decodeErrf("dataset %s: variable %s row %d: %v", dsName, v.name, i, err)
			}
			floats[j][i] = val
			miss[j][i] = missing
		}
	}

	cols := make([]*table.Column, len(vars))
	for j, v := range vars {
		var c *table.Column
		var err error
		if v.vtype == typeNumeric {
			c, err = table.NewFloatColumn(v.name, floats[j], miss[j])
		} else {
			c, err = table.NewStringColumn(v.name, strs[j], nil)
		}
		if err != nil {
			return nil, err
		}
		cols[j] = c
	}
	return table.FromColumns(cols)
}

func decodeLabel(raw []byte) string {
	s, err := charmap.Windows1252.NewDecoder().Bytes(bytes.TrimRight(raw, " \x00"))
	if err != nil {
		return string(bytes.TrimRight(raw, " \x00"))
	}
	return string(s)
}

// ibmToFloat converts an IBM hexadecimal floating point value of 2-8 bytes
// to IEEE 754. Missing values have '.', '_' or 'A'-'Z' in the first byte
// and zeros elsewhere.
func ibmToFloat(cell []byte) (float64, bool, error) {
	if len(cell) < 2 || len(cell) > 8 {
		return 0, false, fmt.Errorf("numeric field of width %d", len(cell))
	}

	var buf [8]byte
	copy(buf[:], cell)

	rest := buf[1:]
	if bytes.Equal(rest, make([]byte, 7)) {
		b := buf[0]
		if b == '.' || b == '_' || (b >= 'A' && b <= 'Z') {
			return 0, true, nil
		}
		if b == 0 {
			return 0, false, nil
		}
	}

	sign := buf[0] & 0x80
	exp := int(buf[0] & 0x7f)
	mant := binary.BigEndian.Uint64(buf[:]) & 0x00ffffffffffffff
	if mant == 0 {
		return 0, false, nil
	}

	// value = mantissa/2^56 * 16^(exp-64)
	v := math.Ldexp(float64(mant)/float64(uint64(1)<<56), 4*(exp-64))
	if sign != 0 {
		v = -v
	}
	return v, false, nil
}
