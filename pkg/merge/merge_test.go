package merge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surveydata/connector-nhanes/pkg/store"
	"github.com/surveydata/connector-nhanes/pkg/table"
	"github.com/surveydata/connector-nhanes/pkg/wave"
)

func setupWave(t *testing.T) (string, string) {
	t.Helper()
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, wave.DirName(2001))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dataDir, dir
}

func floatCol(t *testing.T, name string, vals []float64, miss []bool) *table.Column {
	t.Helper()
	c, err := table.NewFloatColumn(name, vals, miss)
	require.NoError(t, err)
	return c
}

func mustTable(t *testing.T, cols ...*table.Column) *table.Table {
	t.Helper()
	tab, err := table.FromColumns(cols)
	require.NoError(t, err)
	return tab
}

func storeDemo(t *testing.T, dir string) {
	t.Helper()
	demo := mustTable(t,
		floatCol(t, "seqn", []float64{1, 2, 3, 4}, nil),
		floatCol(t, "ridageyr", []float64{41, 9, 67, 30}, nil),
	)
	require.NoError(t, store.Write(demo, dir, "demo_b", false))
}

func TestMergePreservesBaseCardinality(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)
	storeDemo(t, dir)

	// bmx covers subjects 2 and 4 only.
	bmx := mustTable(t,
		floatCol(t, "seqn", []float64{4, 2}, nil),
		floatCol(t, "bmxbmi", []float64{30.5, 17.2}, nil),
	)
	require.NoError(store.Write(bmx, dir, "bmx_b", false))

	res, err := Merge([]string{"bmx_b"}, 2001, dataDir)
	require.NoError(err)
	cohort, ok := res.Single()
	require.True(ok)

	require.Equal(4, cohort.NumRows(), "left join keeps every base subject")
	require.Equal([]string{"seqn", "ridageyr", "bmxbmi"}, cohort.ColumnNames())

	bmi := cohort.Column("bmxbmi")
	vals, _, err := bmi.AsFloat64()
	require.NoError(err)
	require.True(bmi.IsMissing(0), "subject 1 has no bmx record")
	require.Equal(17.2, vals[1])
	require.True(bmi.IsMissing(2))
	require.Equal(30.5, vals[3])
}

func TestMergeExcludesDuplicateSubjects(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)
	storeDemo(t, dir)

	// A per-food table repeats its subjects and cannot be widened.
	foods := mustTable(t,
		floatCol(t, "seqn", []float64{1, 1, 2}, nil),
		floatCol(t, "drxgrms", []float64{120, 80, 45}, nil),
	)
	require.NoError(store.Write(foods, dir, "drxiff_b", false))

	res, err := Merge([]string{"drxiff_b"}, 2001, dataDir)
	require.NoError(err)

	_, ok := res.Single()
	require.False(ok)
	require.Len(res.Excluded, 1)
	excluded := res.Excluded["drxiff_b"]
	require.NotNil(excluded)
	require.Equal(3, excluded.NumRows(), "excluded tables come back unmodified")
	require.Equal(4, res.Cohort.NumRows())
	require.Equal([]string{"seqn", "ridageyr"}, res.Cohort.ColumnNames(), "excluded columns do not leak into the cohort")
}

func TestMergeAmbiguousJoinKey(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)
	storeDemo(t, dir)

	// ridageyr collides with the base table's column of the same name.
	clash := mustTable(t,
		floatCol(t, "seqn", []float64{1, 2}, nil),
		floatCol(t, "ridageyr", []float64{40, 10}, nil),
	)
	require.NoError(store.Write(clash, dir, "ghb_b", false))

	_, err := Merge([]string{"ghb_b"}, 2001, dataDir)
	var ajk *AmbiguousJoinKeyError
	require.True(errors.As(err, &ajk))
	require.Equal("ghb_b", ajk.Stem)
	require.Equal([]string{"ridageyr"}, ajk.Columns)
}

func TestMergeNullSubjectsNeverMatch(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)

	demo := mustTable(t,
		floatCol(t, "seqn", []float64{1, 0}, []bool{false, true}),
		floatCol(t, "ridageyr", []float64{41, 9}, nil),
	)
	require.NoError(store.Write(demo, dir, "demo_b", false))

	bmx := mustTable(t,
		floatCol(t, "seqn", []float64{1, 0}, []bool{false, true}),
		floatCol(t, "bmxbmi", []float64{20, 99}, nil),
	)
	require.NoError(store.Write(bmx, dir, "bmx_b", false))

	res, err := Merge([]string{"bmx_b"}, 2001, dataDir)
	require.NoError(err)
	bmi := res.Cohort.Column("bmxbmi")
	vals, _, err := bmi.AsFloat64()
	require.NoError(err)
	require.Equal(20.0, vals[0])
	require.True(bmi.IsMissing(1), "a null id joins nothing")
}

func TestMergeMissingStemIsFatal(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)
	storeDemo(t, dir)

	_, err := Merge([]string{"nope"}, 2001, dataDir)
	var nf *store.NotFoundError
	require.True(errors.As(err, &nf))

	// The base table itself missing is also fatal.
	require.NoError(os.RemoveAll(dir))
	require.NoError(os.MkdirAll(dir, 0o755))
	_, err = Merge(nil, 2001, dataDir)
	require.True(errors.As(err, &nf))
}

func TestMergeStemCleaning(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)
	storeDemo(t, dir)

	bmx := mustTable(t,
		floatCol(t, "seqn", []float64{1}, nil),
		floatCol(t, "bmxbmi", []float64{20}, nil),
	)
	require.NoError(store.Write(bmx, dir, "bmx_b", false))

	// Duplicates, blanks, casing, and the implicit base stem are all
	// tolerated in the request.
	res, err := Merge([]string{"BMX_B", "bmx_b", "", "demo"}, 2001, dataDir)
	require.NoError(err)
	cohort, ok := res.Single()
	require.True(ok)
	require.Equal([]string{"seqn", "ridageyr", "bmxbmi"}, cohort.ColumnNames())
}

func TestMergeLabels(t *testing.T) {
	require := require.New(t)
	dataDir, dir := setupWave(t)

	demoLabels, err := table.NewLabelTable(
		[]string{"seqn", "ridageyr"},
		[]string{"Respondent sequence number", "Age in years"},
	)
	require.NoError(err)
	require.NoError(store.Write(demoLabels, dir, "demo_b", true))

	bmxLabels, err := table.NewLabelTable(
		[]string{"seqn", "bmxbmi"},
		[]string{"Sequence number (bmx wording)", "Body mass index"},
	)
	require.NoError(err)
	require.NoError(store.Write(bmxLabels, dir, "bmx_b", true))

	merged, err := MergeLabels([]string{"demo_b", "bmx_b"}, 2001, dataDir)
	require.NoError(err)

	names, _, err := merged.Column(table.LabelNameCol).AsString()
	require.NoError(err)
	descs, _, err := merged.Column(table.LabelDescCol).AsString()
	require.NoError(err)
	require.Equal([]string{"seqn", "ridageyr", "bmxbmi"}, names)
	require.Equal("Respondent sequence number", descs[0], "first definition wins")
}
