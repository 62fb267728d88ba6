// Package importer drives a wave: it downloads each listed remote file,
// decodes it by file type, and persists the decoded tables through a
// DatasetWriter. Failures are collected per file, never aborting the rest
// of the batch, so a partially completed wave can be resumed by re-running.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/surveydata/connector-nhanes/pkg/listing"
	"github.com/surveydata/connector-nhanes/pkg/mortality"
	"github.com/surveydata/connector-nhanes/pkg/queue"
	"github.com/surveydata/connector-nhanes/pkg/table"
	"github.com/surveydata/connector-nhanes/pkg/transport"
	"github.com/surveydata/connector-nhanes/pkg/wave"
	"github.com/surveydata/connector-nhanes/pkg/write"
	"github.com/surveydata/connector-nhanes/pkg/xpt"
)

// MortalityStem is the fixed stem mortality data is stored under.
const MortalityStem = "death"

// UnsupportedFileTypeError is returned for files whose extension is not in
// the known set.
type UnsupportedFileTypeError struct {
	Name string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Name)
}

// Outcome records what happened to one file of a wave. Err is nil when the
// file was stored; a non-nil Err means the file was skipped.
type Outcome struct {
	Entry listing.Entry
	Stems []string // stems stored, data artifacts only
	Err   error
}

// Importer is an interface satisfied by anything that can import a wave's
// files into the dataset store.
type Importer interface {
	ImportWave(ctx context.Context, entries []listing.Entry) []Outcome
}

// WaveImporter downloads, decodes and stores the files of a single wave.
type WaveImporter struct {
	fetcher *transport.Fetcher
	writer  write.DatasetWriter
	cfg     *wave.Config

	// Parallelism is the worker count for ImportWave. Values below 2
	// select the sequential path, which preserves caller file order.
	Parallelism int
}

var _ Importer = &WaveImporter{}

// NewWaveImporter returns a new importer for the given wave.
func NewWaveImporter(fetcher *transport.Fetcher, writer write.DatasetWriter, cfg *wave.Config) *WaveImporter {
	return &WaveImporter{
		fetcher: fetcher,
		writer:  writer,
		cfg:     cfg,
	}
}

// ImportWave processes every entry and returns one outcome per entry. In
// parallel mode outcomes arrive in completion order; each file writes to
// its own paths so the workers share no mutable state.
func (w *WaveImporter) ImportWave(ctx context.Context, entries []listing.Entry) []Outcome {
	if w.Parallelism < 2 {
		outcomes := make([]Outcome, 0, len(entries))
		for _, e := range entries {
			outcomes = append(outcomes, w.ImportOne(ctx, e))
		}
		return outcomes
	}

	wl := queue.New(ctx)
	for _, e := range entries {
		wl.Add(e)
	}
	wl.Close()

	var mu sync.Mutex
	var outcomes []Outcome
	var wg sync.WaitGroup
	for i := 0; i < w.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := wl.Next(); e != nil; e = wl.Next() {
				o := w.ImportOne(ctx, *e)
				mu.Lock()
				outcomes = append(outcomes, o)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return outcomes
}

// ImportOne fetches a single remote file to a private temporary location,
// decodes it, and promotes the decoded tables to the store. The original
// download is discarded either way.
func (w *WaveImporter) ImportOne(ctx context.Context, e listing.Entry) Outcome {
	tmpDir, err := os.MkdirTemp("", "nhanes-fetch")
	if err != nil {
		return Outcome{Entry: e, Err: err}
	}
	defer os.RemoveAll(tmpDir)
	tmpPath := filepath.Join(tmpDir, e.Name)

	res := w.fetcher.Fetch(ctx, e.URL, tmpPath)
	if res.Exhausted() {
		err := res.AsError(e.URL)
		log.Warn().Str("url", e.URL).Int("attempts", res.Attempts).Msg("skipping file, transfer exhausted")
		return Outcome{Entry: e, Err: err}
	}

	stems, err := w.decodeAndStore(e, tmpPath)
	if err != nil {
		log.Warn().Str("url", e.URL).Err(err).Msg("skipping file")
		return Outcome{Entry: e, Err: err}
	}
	log.Info().Str("file", e.Name).Strs("stems", stems).Msg("stored")
	return Outcome{Entry: e, Stems: stems}
}

func (w *WaveImporter) decodeAndStore(e listing.Entry, path string) ([]string, error) {
	switch e.Ext() {
	case listing.ExtTransport:
		return w.storeTransport(e, path)
	case listing.ExtFixedWidth:
		return w.storeMortality(path)
	default:
		return nil, &UnsupportedFileTypeError{Name: e.Name}
	}
}

// storeTransport decodes a transport file. A file holding exactly one
// dataset is stored under the stem of the remote filename; a file holding
// several is stored under each dataset's embedded name.
func (w *WaveImporter) storeTransport(e listing.Entry, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	payload, err := xpt.Decode(f)
	if err != nil {
		return nil, err
	}

	if data, labels, ok := payload.Single(); ok {
		if err := w.storePair(e.Stem(), data, labels); err != nil {
			return nil, err
		}
		return []string{e.Stem()}, nil
	}

	stems := make([]string, 0, len(payload.Names))
	for _, name := range payload.Names {
		if err := w.storePair(name, payload.Datasets[name], payload.Labels[name]); err != nil {
			return nil, err
		}
		stems = append(stems, name)
	}
	return stems, nil
}

func (w *WaveImporter) storeMortality(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, labels, err := mortality.Decode(f)
	if err != nil {
		return nil, err
	}
	if err := w.storePair(MortalityStem, data, labels); err != nil {
		return nil, err
	}
	return []string{MortalityStem}, nil
}

func (w *WaveImporter) storePair(stem string, data, labels *table.Table) error {
	if err := w.writer.WriteDataset(data, stem, false); err != nil {
		return err
	}
	return w.writer.WriteDataset(labels, stem, true)
}
