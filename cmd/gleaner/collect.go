package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gleaner/internal/tasks"
)

var (
	collectTypes []string
	collectPage  int
	collectLimit int
	collectPoll  time.Duration
)

var collectCmd = &cobra.Command{
	Use:   "collect <keyword>",
	Short: "Run one collection task and print what it gathered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(a)

		id, err := a.Tasks.StartCollection(ctx, tasks.StartRequest{
			Keyword:     args[0],
			SourceTypes: collectTypes,
			Page:        collectPage,
			Limit:       collectLimit,
			CreatedBy:   "cli",
		})
		if err != nil {
			return err
		}
		a.Logger.Info("task started", "task_id", id)

		ticker := time.NewTicker(collectPoll)
		defer ticker.Stop()
		for {
			res, err := a.Tasks.GetResults(context.Background(), id)
			if err != nil {
				return err
			}
			if res.Status.Terminal() {
				return printResults(id, res)
			}
			select {
			case <-ctx.Done():
				// Workers do not watch the signal; the stopped status ends the run.
				st, err := a.Tasks.Stop(context.Background(), id)
				if err != nil {
					return err
				}
				a.Logger.Info("stop requested", "task_id", id, "status", st)
				res, err := a.Tasks.GetResults(context.Background(), id)
				if err != nil {
					return err
				}
				return printResults(id, res)
			case <-ticker.C:
			}
		}
	},
}

func printResults(id string, res *tasks.Results) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "task\t%s\nstatus\t%s\ncollected\t%d\n", id, res.Status, res.TotalCollected)
	if res.Task.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", res.Task.Error)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SOURCE\tTITLE\tURL")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Source, r.Title, r.URL)
	}
	return tw.Flush()
}

func init() {
	collectCmd.Flags().StringSliceVarP(&collectTypes, "sources", "s", []string{"baidu_search"}, "Source types to collect from")
	collectCmd.Flags().IntVar(&collectPage, "page", tasks.DefaultPage, "Result pages to fetch per source")
	collectCmd.Flags().IntVar(&collectLimit, "limit", tasks.DefaultLimit, "Maximum results per source")
	collectCmd.Flags().DurationVar(&collectPoll, "poll", time.Second, "Status poll interval")
	rootCmd.AddCommand(collectCmd)
}
