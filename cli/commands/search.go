package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/crawl"
)

func (a *App) newSearchCommand() *cobra.Command {
	var opts crawl.SearchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the web",
		Long: `Search the web and print the matching pages.

Examples:
  crawlr search "go context cancellation"
  crawlr search golang generics --limit 3 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}

			results, err := svc.Search(cmd.Context(), strings.Join(args, " "), &opts)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(results)
			}
			for i, r := range results {
				if i > 0 {
					fmt.Fprintln(a.stdout)
				}
				title := r.Title
				if title == "" {
					title = r.URL
				}
				fmt.Fprintf(a.stdout, "%d. %s\n   %s\n", i+1, title, r.URL)
				if r.Description != "" {
					fmt.Fprintf(a.stdout, "   %s\n", r.Description)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max results (0 = service default)")
	cmd.Flags().StringVar(&opts.Lang, "lang", "", "result language")
	cmd.Flags().StringVar(&opts.Country, "country", "", "result country")

	return cmd
}
