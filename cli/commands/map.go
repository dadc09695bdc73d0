package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/crawl"
)

func (a *App) newMapCommand() *cobra.Command {
	var opts crawl.MapOptions

	cmd := &cobra.Command{
		Use:   "map <url>",
		Short: "List the links of a site",
		Long: `List the links of a site without scraping them.

Examples:
  crawlr map https://example.com
  crawlr map https://example.com --search docs --limit 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}

			links, err := svc.Map(cmd.Context(), args[0], &opts)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(links)
			}
			for _, link := range links {
				fmt.Fprintln(a.stdout, link)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "only return links related to this term")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max links to return (0 = service default)")
	cmd.Flags().BoolVar(&opts.IncludeSubdomains, "subdomains", false, "include links on subdomains")

	return cmd
}
