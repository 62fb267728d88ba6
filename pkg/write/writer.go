// Package write provides the dataset writer used by the wave importer,
// with logging and dry-run decorators.
package write

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/surveydata/connector-nhanes/pkg/store"
	"github.com/surveydata/connector-nhanes/pkg/table"
)

// DatasetWriter persists decoded tables.
type DatasetWriter interface {
	WriteDataset(t *table.Table, stem string, isLabel bool) error
}

// NewDatasetWriter returns a writer for the given wave directory. It will
// configure trace logging if the current log level is trace, and will
// dry-run (log, never write) when dryRun is set.
func NewDatasetWriter(waveDir string, dryRun bool) DatasetWriter {
	if dryRun {
		return NewDryRunWriter()
	}
	w := StoreWriter{waveDir: waveDir}
	if zerolog.GlobalLevel() == zerolog.TraceLevel {
		return LoggingWriter{writer: w, level: zerolog.TraceLevel}
	}
	return w
}

// StoreWriter writes to the parquet dataset store, no-frills.
type StoreWriter struct {
	waveDir string
}

func (w StoreWriter) WriteDataset(t *table.Table, stem string, isLabel bool) error {
	return store.Write(t, w.waveDir, stem, isLabel)
}

// LoggingWriter logs each dataset before delegating to an underlying
// DatasetWriter.
type LoggingWriter struct {
	writer DatasetWriter
	level  zerolog.Level
}

func (w LoggingWriter) WriteDataset(t *table.Table, stem string, isLabel bool) error {
	log.WithLevel(w.level).
		Str("stem", stem).
		Bool("label", isLabel).
		Int("rows", t.NumRows()).
		Int("cols", t.NumCols()).
		Msg("write dataset")
	return w.writer.WriteDataset(t, stem, isLabel)
}

// NewDryRunWriter constructs a writer that logs but doesn't write.
func NewDryRunWriter() DatasetWriter {
	return LoggingWriter{
		writer: DiscardingWriter{},
		level:  zerolog.InfoLevel,
	}
}

// DiscardingWriter does nothing but satisfy DatasetWriter.
type DiscardingWriter struct{}

func (w DiscardingWriter) WriteDataset(t *table.Table, stem string, isLabel bool) error {
	return nil
}
