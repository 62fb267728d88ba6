package main

import (
	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/surveydata/connector-nhanes/pkg/cmd/catalog"
	"github.com/surveydata/connector-nhanes/pkg/cmd/fetch"
	"github.com/surveydata/connector-nhanes/pkg/cmd/merge"
	"github.com/surveydata/connector-nhanes/pkg/signals"
	"github.com/surveydata/connector-nhanes/pkg/streams"
)

func main() {
	s := streams.NewStdIO()
	ctx := signals.Context()
	rootCmd := &cobra.Command{
		Use:               "connector-nhanes",
		Short:             "Fetch NHANES survey waves into a local columnar store and merge them per respondent",
		PersistentPreRunE: cobrautil.SyncViperPreRunE("connector-nhanes"),
	}

	rootCmd.AddCommand(fetch.NewFetchCmd(ctx, s))
	rootCmd.AddCommand(catalog.NewCatalogCmd(ctx, s))
	rootCmd.AddCommand(merge.NewMergeCmd(ctx, s))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err)
	}
}
