package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gleaner/internal/sources"
	"github.com/FranksOps/gleaner/internal/storage"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage source configurations",
}

var listEnabledOnly bool

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		list, err := a.Sources.List(ctx, listEnabledOnly)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMETHOD\tENABLED\tURL")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", s.ID, s.Name, s.Type, s.Method, s.Enabled, s.URL)
		}
		return tw.Flush()
	},
}

var (
	addType     string
	addMethod   string
	addParams   string
	addHeaders  string
	addInterval time.Duration
	addDisabled bool
	addDesc     string
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Create a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		src := &storage.Source{
			Name:          args[0],
			URL:           args[1],
			Type:          addType,
			Method:        addMethod,
			Params:        addParams,
			Headers:       addHeaders,
			CrawlInterval: addInterval,
			Enabled:       !addDisabled,
			Description:   addDesc,
		}
		if err := a.Sources.Create(ctx, src); err != nil {
			return err
		}
		fmt.Println(src.ID)
		return nil
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update sources from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		res, err := a.Sources.ImportFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created %d, updated %d\n", res.Created, res.Updated)
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete sources",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		for _, id := range args {
			if err := a.Sources.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	sourcesListCmd.Flags().BoolVar(&listEnabledOnly, "enabled", false, "Only enabled sources")

	f := sourcesAddCmd.Flags()
	f.StringVar(&addType, "type", sources.DefaultType, "Source type")
	f.StringVar(&addMethod, "method", sources.DefaultMethod, "Request method (GET or POST)")
	f.StringVar(&addParams, "params", "", "Request parameters as a JSON object")
	f.StringVar(&addHeaders, "headers", "", "Extra headers as a JSON object")
	f.DurationVar(&addInterval, "interval", sources.DefaultCrawlInterval, "Crawl interval")
	f.BoolVar(&addDisabled, "disabled", false, "Create the source disabled")
	f.StringVar(&addDesc, "description", "", "Free-form description")

	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesImportCmd, sourcesRemoveCmd)
	rootCmd.AddCommand(sourcesCmd)
}
