// Package catalog implements the subcommand that prints the remote file
// catalog for inspection.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/surveydata/connector-nhanes/pkg/listing"
	"github.com/surveydata/connector-nhanes/pkg/streams"
	"github.com/surveydata/connector-nhanes/pkg/util"
)

// DefaultCatalogURL is the variable-keyword search page that lists every
// published data file across all waves.
const DefaultCatalogURL = "https://wwwn.cdc.gov/nchs/nhanes/search/datapage.aspx"

// NewCatalogCmd configures a new cobra command that downloads the remote
// catalog page and writes it to stdout as YAML or JSON.
func NewCatalogCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "catalog",
		Short:   "print the remote file catalog",
		Example: "  connector-nhanes catalog --format yaml",
		// Logs go to stderr so stdout stays parseable.
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.ErrOut),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.URL, "url", DefaultCatalogURL, "catalog page to download")
	cmd.Flags().StringVar(&o.Format, "format", "yaml", "output format, one of yaml or json")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the catalog command
type Options struct {
	streams.IO

	URL    string
	Format string
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO: ioStreams,
	}
}

// Complete fills out default values before running
func (o *Options) Complete() error {
	switch o.Format {
	case "yaml", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q", o.Format)
	}
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	entries, err := listing.Catalog(ctx, http.DefaultClient, o.URL)
	if err != nil {
		return err
	}

	var out []byte
	switch o.Format {
	case "json":
		out, err = json.MarshalIndent(entries, "", "  ")
	default:
		out, err = yaml.Marshal(entries)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(o.Out, string(out))
	return err
}
