package xpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/surveydata/connector-nhanes/pkg/table"
)

// Member is one dataset to be written into a transport file.
type Member struct {
	// Name is the dataset name, at most 8 characters.
	Name string
	// Data holds the observations. Numeric columns are written as 8-byte
	// IBM floats; string columns as fixed-width fields sized to the
	// longest value (minimum 1).
	Data *table.Table
	// VarLabels optionally maps variable names to label text.
	VarLabels map[string]string
}

const headerDate = "16FEB11:14:21:32"

// Marshal encodes one or more datasets as a SAS transport (XPORT v5) file.
// It exists so tests and fixtures can produce byte-exact transport files;
// the connector itself only decodes.
func Marshal(members ...Member) ([]byte, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("xpt marshal: no members")
	}
	var out bytes.Buffer

	writeRecord(&out, libraryPrefix+strings.Repeat("0", 30))
	writeRecord(&out, fmt.Sprintf("%-8s%-8s%-8s%-8s%-8s%24s%s", "SAS", "SAS", "SASLIB", "9.4", "Linux", "", headerDate))
	writeRecord(&out, fmt.Sprintf("%-16s%64s", headerDate, ""))

	for _, m := range members {
		if err := writeMember(&out, m); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func writeMember(out *bytes.Buffer, m Member) error {
	name := strings.ToUpper(m.Name)
	if name == "" || len(name) > 8 {
		return fmt.Errorf("xpt marshal: bad dataset name %q", m.Name)
	}

	writeRecord(out, memberPrefix+strings.Repeat("0", 17)+"1600000000140")
	writeRecord(out, dscrptrPrefix+strings.Repeat("0", 30))
	writeRecord(out, fmt.Sprintf("%-8s%-8s%-8s%-8s%-8s%24s%s", "SAS", name, "SASDATA", "9.4", "Linux", "", headerDate))
	writeRecord(out, fmt.Sprintf("%-16s%-40s%-8s%16s", headerDate, "", "", ""))

	cols := m.Data.Columns()
	writeRecord(out, namestrPrefix+fmt.Sprintf("%06d%04d", 0, len(cols))+strings.Repeat("0", 20)+"  ")

	// NAMESTR entries, then pad the block to an 80-byte boundary.
	widths := make([]int, len(cols))
	pos := 0
	var ns bytes.Buffer
	for j, c := range cols {
		w := 8
		vtype := typeNumeric
		if c.IsString() {
			vtype = typeChar
			vals, _, err := c.AsString()
			if err != nil {
				return err
			}
			w = 1
			for _, v := range vals {
				if len(v) > w {
					w = len(v)
				}
			}
		}
		widths[j] = w

		entry := make([]byte, namestrLen)
		for i := range entry {
			entry[i] = ' '
		}
		binary.BigEndian.PutUint16(entry[0:2], uint16(vtype))
		binary.BigEndian.PutUint16(entry[4:6], uint16(w))
		binary.BigEndian.PutUint16(entry[6:8], uint16(j))
		copy(entry[8:16], padRight(strings.ToUpper(c.Name), 8))
		copy(entry[16:56], padRight(m.VarLabels[c.Name], 40))
		binary.BigEndian.PutUint32(entry[84:88], uint32(pos))
		ns.Write(entry)
		pos += w
	}
	padTo80(&ns, ' ')
	out.Write(ns.Bytes())

	writeRecord(out, obsPrefix+strings.Repeat("0", 30))

	var obs bytes.Buffer
	for i := 0; i < m.Data.NumRows(); i++ {
		for j, c := range cols {
			if c.IsString() {
				vals, _, _ := c.AsString()
				obs.Write(padRight(vals[i], widths[j]))
				continue
			}
			vals, _, err := c.AsFloat64()
			if err != nil {
				return err
			}
			var cell [8]byte
			if c.IsMissing(i) {
				cell[0] = '.'
			} else {
				floatToIBM(vals[i], &cell)
			}
			obs.Write(cell[:])
		}
	}
	padTo80(&obs, ' ')
	out.Write(obs.Bytes())
	return nil
}

func writeRecord(out *bytes.Buffer, s string) {
	out.Write(padRight(s, recordLen))
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func padTo80(b *bytes.Buffer, pad byte) {
	for b.Len()%recordLen != 0 {
		b.WriteByte(pad)
	}
}

// floatToIBM encodes v as an 8-byte IBM hexadecimal float.
func floatToIBM(v float64, cell *[8]byte) {
	if v == 0 {
		return
	}
	sign := byte(0)
	if v < 0 {
		sign = 0x80
		v = -v
	}

	frac, exp2 := math.Frexp(v) // v = frac * 2^exp2, frac in [0.5, 1)
	// rebase to 16: v = f * 16^q with f in [1/16, 1)
	q := exp2 / 4
	if exp2%4 != 0 && exp2 > 0 {
		q++
	}
	f := math.Ldexp(frac, exp2-4*q)

	mant := uint64(math.Round(f * float64(uint64(1)<<56)))
	if mant >= uint64(1)<<56 {
		mant >>= 4
		q++
	}
	binary.BigEndian.PutUint64(cell[:], mant)
	cell[0] = sign | byte(q+64)
}
