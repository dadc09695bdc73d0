package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/crawl"
)

func (a *App) newScrapeCommand() *cobra.Command {
	var (
		formats     []string
		onlyMain    bool
		waitFor     int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "scrape <url> [url...]",
		Short: "Scrape one or more pages",
		Long: `Scrape pages and print their content.

Examples:
  crawlr scrape https://example.com
  crawlr scrape https://example.com --format html
  crawlr scrape https://a.com https://b.com --concurrency 2 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}

			opts := &crawl.ScrapeOptions{Formats: formats, WaitFor: waitFor}
			if cmd.Flags().Changed("only-main") {
				opts.OnlyMainContent = &onlyMain
			}

			docs, err := svc.ScrapeMany(cmd.Context(), args, concurrency, opts)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				if len(docs) == 1 {
					return a.printJSON(docs[0])
				}
				return a.printJSON(docs)
			}
			for i, doc := range docs {
				if len(docs) > 1 {
					if i > 0 {
						fmt.Fprintln(a.stdout)
					}
					fmt.Fprintf(a.stdout, "==> %s <==\n", args[i])
				}
				fmt.Fprintln(a.stdout, documentText(doc))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&formats, "format", []string{"markdown"}, "output formats (markdown, html, rawHtml, links, screenshot)")
	cmd.Flags().BoolVar(&onlyMain, "only-main", true, "strip headers, navigation and footers")
	cmd.Flags().IntVar(&waitFor, "wait-for", 0, "milliseconds to wait before scraping")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "max pages scraped at once")

	return cmd
}

// documentText picks the first non-empty representation of doc.
func documentText(doc *crawl.Document) string {
	switch {
	case doc.Markdown != "":
		return doc.Markdown
	case doc.HTML != "":
		return doc.HTML
	case doc.RawHTML != "":
		return doc.RawHTML
	case len(doc.Links) > 0:
		return strings.Join(doc.Links, "\n")
	default:
		return doc.Screenshot
	}
}
