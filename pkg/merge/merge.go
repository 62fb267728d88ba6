// Package merge composes stored per-topic tables into one denormalized
// analysis table keyed by the subject identifier. Tables with more than
// one record per subject cannot be widened onto the cohort and are
// returned separately.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/surveydata/connector-nhanes/pkg/store"
	"github.com/surveydata/connector-nhanes/pkg/table"
)

// SubjectID is the respondent sequence number joining all per-topic tables
// within a wave. The join key is pinned to this column; it is never
// inferred from column-name intersections.
const SubjectID = "seqn"

// BaseStem is the demographic table every merge is anchored on.
const BaseStem = "demo"

// AmbiguousJoinKeyError is returned when a requested table shares a
// non-key column name with the accumulating cohort table. Such a collision
// would either silently become an extra join predicate or silently drop a
// column, so it is refused instead.
type AmbiguousJoinKeyError struct {
	Stem    string
	Columns []string
}

func (e *AmbiguousJoinKeyError) Error() string {
	return fmt.Sprintf("table %s shares non-key columns with the cohort: %s", e.Stem, strings.Join(e.Columns, ", "))
}

// Result is the outcome of a merge. Excluded holds requested tables that
// carry duplicate subject identifiers, keyed by stem and unmodified; it is
// empty when every requested table joined.
type Result struct {
	Cohort   *table.Table
	Excluded map[string]*table.Table
}

// Single returns the cohort table when nothing was excluded.
func (r *Result) Single() (*table.Table, bool) {
	if len(r.Excluded) > 0 {
		return nil, false
	}
	return r.Cohort, true
}

// cleanStems deduplicates the requested stems, dropping empty entries and
// the base stem, which is always loaded implicitly.
func cleanStems(stems []string) []string {
	out := make([]string, 0, len(stems))
	seen := map[string]struct{}{}
	for _, s := range stems {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || s == BaseStem {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Merge loads the demographic base table plus every requested stem for one
// wave and left-joins each singly-keyed table onto the base. Any requested
// stem that is not stored is fatal to the whole call.
func Merge(stems []string, startYear int, dataDir string) (*Result, error) {
	cohort, err := store.Read(dataDir, startYear, BaseStem, false)
	if err != nil {
		return nil, err
	}
	if cohort.Column(SubjectID) == nil {
		return nil, fmt.Errorf("base table %s has no %s column", BaseStem, SubjectID)
	}

	res := &Result{Cohort: cohort, Excluded: map[string]*table.Table{}}
	for _, stem := range cleanStems(stems) {
		t, err := store.Read(dataDir, startYear, stem, false)
		if err != nil {
			return nil, err
		}
		key := t.Column(SubjectID)
		if key == nil {
			return nil, fmt.Errorf("table %s has no %s column", stem, SubjectID)
		}

		index, unique, err := subjectIndex(key)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", stem, err)
		}
		if !unique {
			log.Info().Str("stem", stem).Msg("multiple records per subject, excluding from join")
			res.Excluded[stem] = t
			continue
		}
		if err := leftJoin(res.Cohort, t, index, stem); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// subjectIndex maps subject id to row index and reports whether ids are
// unique. Null ids never match anything.
func subjectIndex(key *table.Column) (map[float64]int, bool, error) {
	ids, _, err := key.AsFloat64()
	if err != nil {
		return nil, false, err
	}
	index := make(map[float64]int, len(ids))
	for i, id := range ids {
		if key.IsMissing(i) {
			continue
		}
		if _, dup := index[id]; dup {
			return nil, false, nil
		}
		index[id] = i
	}
	return index, true, nil
}

// leftJoin appends t's non-key columns to the cohort, preserving cohort
// cardinality; rows of the cohort without a counterpart get missing cells.
func leftJoin(cohort, t *table.Table, index map[float64]int, stem string) error {
	var collisions []string
	for _, c := range t.Columns() {
		if c.Name != SubjectID && cohort.HasColumn(c.Name) {
			collisions = append(collisions, c.Name)
		}
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		return &AmbiguousJoinKeyError{Stem: stem, Columns: collisions}
	}

	baseKey := cohort.Column(SubjectID)
	baseIDs, _, err := baseKey.AsFloat64()
	if err != nil {
		return err
	}
	rowIdx := make([]int, len(baseIDs))
	for i, id := range baseIDs {
		rowIdx[i] = -1
		if baseKey.IsMissing(i) {
			continue
		}
		if j, ok := index[id]; ok {
			rowIdx[i] = j
		}
	}

	for _, c := range t.Columns() {
		if c.Name == SubjectID {
			continue
		}
		if err := cohort.AppendColumn(c.Take(rowIdx)); err != nil {
			return err
		}
	}
	return nil
}

// MergeLabels stacks the label rows of every requested stem into one table
// and deduplicates by variable name, keeping the first definition in
// input order.
func MergeLabels(stems []string, startYear int, dataDir string) (*table.Table, error) {
	var names, descs []string
	seen := map[string]struct{}{}

	ordered := make([]string, 0, len(stems))
	dup := map[string]struct{}{}
	for _, s := range stems {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, d := dup[s]; d {
			continue
		}
		dup[s] = struct{}{}
		ordered = append(ordered, s)
	}

	for _, stem := range ordered {
		t, err := store.Read(dataDir, startYear, stem, true)
		if err != nil {
			return nil, err
		}
		nameCol := t.Column(table.LabelNameCol)
		descCol := t.Column(table.LabelDescCol)
		if nameCol == nil || descCol == nil {
			return nil, fmt.Errorf("stored labels for %s are not a label table", stem)
		}
		ns, _, err := nameCol.AsString()
		if err != nil {
			return nil, err
		}
		ds, _, err := descCol.AsString()
		if err != nil {
			return nil, err
		}
		for i := range ns {
			if _, d := seen[ns[i]]; d {
				continue
			}
			seen[ns[i]] = struct{}{}
			names = append(names, ns[i])
			descs = append(descs, ds[i])
		}
	}
	return table.NewLabelTable(names, descs)
}
