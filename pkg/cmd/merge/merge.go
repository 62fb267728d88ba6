// Package merge implements the subcommand that joins stored per-topic
// datasets into a single per-respondent table.
package merge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/surveydata/connector-nhanes/pkg/merge"
	"github.com/surveydata/connector-nhanes/pkg/store"
	"github.com/surveydata/connector-nhanes/pkg/streams"
	"github.com/surveydata/connector-nhanes/pkg/util"
	"github.com/surveydata/connector-nhanes/pkg/wave"
)

// CohortStem names the merged output dataset within the wave directory.
const CohortStem = "cohort"

// NewMergeCmd configures a new cobra command that merges stored datasets
// into one analysis table keyed by respondent.
func NewMergeCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "merge [stems]",
		Short:   "merge stored datasets into one table per respondent",
		Example: "  connector-nhanes merge --year 2001 --data-dir ./nhanes bmx_b bpx_b death",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(args); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "", "local data directory holding the wave subdirectories")
	cmd.Flags().IntVar(&o.Year, "year", 0, "wave start year, e.g. 1999 or 2001")
	cmd.Flags().BoolVar(&o.Labels, "labels", false, "also merge the variable label tables")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the merge command
type Options struct {
	streams.IO

	DataDir string
	Year    int
	Labels  bool

	stems []string
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO: ioStreams,
	}
}

// Complete fills out default values before running
func (o *Options) Complete(args []string) error {
	if o.DataDir == "" {
		return fmt.Errorf("must provide a data directory")
	}
	if !wave.ValidYear(o.Year) {
		return fmt.Errorf("%w: got %d", wave.ErrInvalidWaveYear, o.Year)
	}
	o.stems = args
	return nil
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	res, err := merge.Merge(o.stems, o.Year, o.DataDir)
	if err != nil {
		return err
	}

	waveDir := filepath.Join(o.DataDir, wave.DirName(o.Year))
	if err := store.Write(res.Cohort, waveDir, CohortStem, false); err != nil {
		return err
	}
	for stem, t := range res.Excluded {
		log.Warn().Str("stem", stem).Msg("dataset excluded from merge: duplicate respondent identifiers")
		if err := store.Write(t, waveDir, CohortStem+"_excluded_"+stem, false); err != nil {
			return err
		}
	}

	if o.Labels {
		labels, err := merge.MergeLabels(append([]string{merge.BaseStem}, o.stems...), o.Year, o.DataDir)
		if err != nil {
			return err
		}
		if err := store.Write(labels, waveDir, CohortStem, true); err != nil {
			return err
		}
	}

	fmt.Fprintf(o.Out, "cohort: %d respondents, %d variables (%d datasets excluded)\n",
		res.Cohort.NumRows(), res.Cohort.NumCols(), len(res.Excluded))
	return ctx.Err()
}
