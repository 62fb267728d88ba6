package write

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surveydata/connector-nhanes/pkg/table"
)

func oneRowTable(t *testing.T) *table.Table {
	t.Helper()
	c, err := table.NewFloatColumn("seqn", []float64{1}, nil)
	require.NoError(t, err)
	tab, err := table.FromColumns([]*table.Column{c})
	require.NoError(t, err)
	return tab
}

func TestStoreWriterWrites(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	w := NewDatasetWriter(dir, false)
	require.NoError(w.WriteDataset(oneRowTable(t), "demo_b", false))

	entries, err := os.ReadDir(dir)
	require.NoError(err)
	require.Len(entries, 1)
	require.Equal("demo_b.parquet", entries[0].Name())
}

func TestDryRunWriterDiscards(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	w := NewDatasetWriter(dir, true)
	require.NoError(w.WriteDataset(oneRowTable(t), "demo_b", false))

	entries, err := os.ReadDir(dir)
	require.NoError(err)
	require.Empty(entries)
}
