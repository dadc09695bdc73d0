package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/core"
	"github.com/petal-labs/crawlr/crawl"
)

// eventOutput is the JSON line written per event by crawl --watch.
type eventOutput struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Document *crawl.Document  `json:"document,omitempty"`
	Progress *crawl.JobStatus `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (a *App) newCrawlCommand() *cobra.Command {
	var (
		opts  crawl.CrawlOptions
		wait  bool
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Start a crawl job",
		Long: `Start a crawl job rooted at a URL.

Without --wait or --watch the job ID is printed and the command returns.

Examples:
  crawlr crawl https://example.com --limit 20
  crawlr crawl https://example.com --wait --json
  crawlr crawl https://example.com --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait && watch {
				return core.NewValidationError("--wait and --watch are mutually exclusive")
			}
			svc, err := a.newService()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if wait {
				status, err := svc.Crawl(ctx, args[0], &opts)
				if err != nil {
					return err
				}
				return a.printStatus(status)
			}

			job, err := svc.StartCrawl(ctx, args[0], &opts)
			if err != nil {
				return err
			}
			if !watch {
				if a.jsonOutput {
					return a.printJSON(job)
				}
				fmt.Fprintln(a.stdout, job.ID)
				return nil
			}

			fmt.Fprintf(a.stderr, "watching crawl %s\n", job.ID)
			return a.watch(cmd, svc, job.ID)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max pages to crawl (0 = service default)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "max link depth (0 = service default)")
	cmd.Flags().StringSliceVar(&opts.IncludePaths, "include", nil, "path patterns to include")
	cmd.Flags().StringSliceVar(&opts.ExcludePaths, "exclude", nil, "path patterns to exclude")
	cmd.Flags().BoolVar(&opts.AllowExternalLinks, "external", false, "follow links to other domains")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job and print its documents")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream job events as they happen")

	return cmd
}

func (a *App) watch(cmd *cobra.Command, svc *crawl.Service, id string) error {
	var failed bool
	for ev, err := range svc.WatchCrawl(cmd.Context(), id) {
		if err != nil {
			return err
		}
		if a.jsonOutput {
			if err := writeJSON(a.stdout, eventOutput(ev), false); err != nil {
				return err
			}
		} else {
			a.printEvent(ev)
		}
		if ev.Type == crawl.EventDone && ev.Progress != nil && ev.Progress.Status == crawl.StatusFailed {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("crawl %s: %w", id, crawl.ErrJobFailed)
	}
	return nil
}

func (a *App) printEvent(ev crawl.CrawlEvent) {
	switch ev.Type {
	case crawl.EventDocument:
		fmt.Fprintf(a.stdout, "document  %s\n", ev.Document.SourceURL())
	case crawl.EventProgress:
		fmt.Fprintf(a.stdout, "progress  %s %d/%d\n", ev.Progress.Status, ev.Progress.Completed, ev.Progress.Total)
	case crawl.EventError:
		fmt.Fprintf(a.stdout, "error     %s\n", ev.Error)
	case crawl.EventDone:
		fmt.Fprintf(a.stdout, "done      %s %d/%d\n", ev.Progress.Status, ev.Progress.Completed, ev.Progress.Total)
	}
}

func (a *App) printStatus(status *crawl.JobStatus) error {
	if a.jsonOutput {
		return a.printJSON(status)
	}
	fmt.Fprintf(a.stdout, "status:    %s\n", status.Status)
	fmt.Fprintf(a.stdout, "progress:  %d/%d\n", status.Completed, status.Total)
	if status.CreditsUsed > 0 {
		fmt.Fprintf(a.stdout, "credits:   %d\n", status.CreditsUsed)
	}
	if status.ExpiresAt != nil {
		fmt.Fprintf(a.stdout, "expires:   %s\n", status.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	for _, doc := range status.Data {
		fmt.Fprintf(a.stdout, "  %s\n", doc.SourceURL())
	}
	return nil
}

func (a *App) newStatusCommand() *cobra.Command {
	var showErrors bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}

			status, err := svc.CrawlStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !showErrors {
				return a.printStatus(status)
			}

			crawlErrs, err := svc.CrawlErrors(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(map[string]any{"status": status, "errors": crawlErrs})
			}
			if err := a.printStatus(status); err != nil {
				return err
			}
			for _, ce := range crawlErrs {
				fmt.Fprintf(a.stdout, "  ! %s: %s\n", ce.URL, ce.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showErrors, "errors", false, "also list pages that failed")

	return cmd
}

func (a *App) newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService()
			if err != nil {
				return err
			}
			if err := svc.CancelCrawl(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("crawl %s not found: %w", args[0], err)
				}
				return err
			}
			if a.jsonOutput {
				return a.printJSON(map[string]any{"id": args[0], "status": crawl.StatusCancelled})
			}
			fmt.Fprintf(a.stdout, "cancelled %s\n", args[0])
			return nil
		},
	}
}
