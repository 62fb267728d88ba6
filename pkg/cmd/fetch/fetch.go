// Package fetch implements the subcommand that downloads and converts the
// files of one or more waves.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/surveydata/connector-nhanes/pkg/importer"
	"github.com/surveydata/connector-nhanes/pkg/listing"
	"github.com/surveydata/connector-nhanes/pkg/streams"
	"github.com/surveydata/connector-nhanes/pkg/transport"
	"github.com/surveydata/connector-nhanes/pkg/util"
	"github.com/surveydata/connector-nhanes/pkg/wave"
	"github.com/surveydata/connector-nhanes/pkg/write"
)

// NewFetchCmd configures a new cobra command that downloads a wave's files
// and converts them into the local dataset store.
func NewFetchCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "fetch",
		Short:   "download a wave's files and convert them to the local dataset store",
		Example: "  connector-nhanes fetch --year 2001 --data-dir ./nhanes --parallel 4",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "", "local data directory (a fresh temporary directory if unset)")
	cmd.Flags().IntVar(&o.Year, "year", 0, "wave start year, e.g. 1999 or 2001")
	cmd.Flags().StringVar(&o.PlanFile, "plan", "", "path to a YAML fetch plan (years and name filter)")
	cmd.Flags().IntVar(&o.Parallel, "parallel", 1, "number of concurrent download workers")
	cmd.Flags().IntVar(&o.MaxAttempts, "max-attempts", transport.DefaultMaxAttempts, "download attempts per file before skipping it")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "log datasets that would be stored without writing them")
	cmd.Flags().BoolVar(&o.Audit, "audit", false, "write a manifest of every file considered into the wave directory")
	cmd.Flags().StringVar(&o.Filter, "filter", "", "case-insensitive substring filter on remote filenames")
	cmd.Flags().StringVar(&o.DataRoot, "data-root", wave.DefaultDataRoot, "remote root of the per-wave data directories")
	cmd.Flags().StringVar(&o.MortalityRoot, "mortality-root", wave.DefaultMortalityRoot, "remote directory of the linked mortality files")
	cmd.Flags().BoolVar(&o.SkipMortality, "skip-mortality", false, "do not fetch the wave's linked mortality file")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Plan is the YAML fetch plan: which waves to fetch and an optional name
// filter, mirroring the flags.
type Plan struct {
	Years  []int  `json:"years"`
	Filter string `json:"filter,omitempty"`
}

// Options holds options for the fetch command
type Options struct {
	streams.IO

	DataDir       string
	Year          int
	PlanFile      string
	Parallel      int
	MaxAttempts   int
	DryRun        bool
	Audit         bool
	Filter        string
	DataRoot      string
	MortalityRoot string
	SkipMortality bool

	plan    Plan
	fetcher *transport.Fetcher
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO: ioStreams,
	}
}

// Complete fills out default values before running
func (o *Options) Complete() error {
	if o.PlanFile != "" {
		raw, err := os.ReadFile(o.PlanFile)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, &o.plan); err != nil {
			return err
		}
		if o.plan.Filter != "" {
			o.Filter = o.plan.Filter
		}
	} else {
		if o.Year == 0 {
			return fmt.Errorf("must provide a wave year or a fetch plan")
		}
		o.plan = Plan{Years: []int{o.Year}}
	}
	for _, y := range o.plan.Years {
		if !wave.ValidYear(y) {
			return fmt.Errorf("%w: got %d", wave.ErrInvalidWaveYear, y)
		}
	}

	o.fetcher = transport.NewFetcher(http.DefaultClient)
	o.fetcher.MaxAttempts = o.MaxAttempts
	return nil
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	for _, year := range o.plan.Years {
		if err := o.runWave(ctx, year); err != nil {
			return err
		}
	}
	return nil
}

func (o *Options) runWave(ctx context.Context, year int) error {
	cfg, err := wave.Setup(o.DataDir, year)
	if err != nil {
		return err
	}
	cfg.DataRoot = o.DataRoot
	cfg.MortalityRoot = o.MortalityRoot
	log.Info().EmbedObject(cfg).Msg("fetching wave")

	entries, err := listing.List(ctx, o.fetcher.Client, cfg.RemoteDir(), o.Filter)
	if err != nil {
		return err
	}
	if !o.SkipMortality {
		mort, err := listing.List(ctx, o.fetcher.Client, cfg.MortalityRoot, cfg.Label)
		if err != nil {
			return err
		}
		entries = append(entries, mort...)
	}
	if o.Audit {
		if err := importer.WriteManifest(cfg.TargetDir, entries); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		log.Warn().EmbedObject(cfg).Msg("nothing to fetch")
		return nil
	}

	imp := importer.NewWaveImporter(o.fetcher, write.NewDatasetWriter(cfg.TargetDir, o.DryRun), cfg)
	imp.Parallelism = o.Parallel
	outcomes := imp.ImportWave(ctx, entries)

	stored, skipped := 0, 0
	for _, oc := range outcomes {
		if oc.Err != nil {
			skipped++
			continue
		}
		stored++
	}
	fmt.Fprintf(o.Out, "wave %s: %d files stored, %d skipped\n", cfg.Label, stored, skipped)
	return ctx.Err()
}
