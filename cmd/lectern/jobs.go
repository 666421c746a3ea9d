package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/lectern/internal/api"
	"github.com/benaskins/lectern/internal/articles"
	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/health"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/status"
	"github.com/benaskins/lectern/internal/tui"
)

// jobOutcome is a finished article job, however it was run.
type jobOutcome struct {
	Article  *backend.Article
	TimedOut bool
	Attempts int
	Elapsed  time.Duration
}

type jobSpec struct {
	use    string
	short  string
	action string // control API action
	title  string
	direct func(*articles.Service, context.Context, int64) (articles.Result, error)
	print  func(io.Writer, *backend.Article)
}

var jobSpecs = []jobSpec{
	{
		use:    "summarize <article-id>",
		short:  "Summarize an article and wait for the result",
		action: api.ActionSummarize,
		title:  "Summarizing article",
		direct: (*articles.Service).Summarize,
		print:  printSummary,
	},
	{
		use:    "related <article-id>",
		short:  "Find related articles and wait for the links",
		action: api.ActionRelated,
		title:  "Finding related articles for",
		direct: (*articles.Service).FindRelated,
		print:  printRelated,
	},
	{
		use:    "fetch <article-id>",
		short:  "Fetch an article's full content through its authenticated source",
		action: api.ActionFetch,
		title:  "Fetching content for article",
		direct: (*articles.Service).FetchContent,
		print:  printContent,
	},
}

func init() {
	for _, spec := range jobSpecs {
		rootCmd.AddCommand(jobCommand(spec))
	}
}

func jobCommand(spec jobSpec) *cobra.Command {
	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid article id %q", args[0])
			}
			direct, _ := cmd.Flags().GetBool("direct")
			port, _ := cmd.Flags().GetInt("port")
			focus, _ := cmd.Flags().GetBool("focus")

			var out jobOutcome
			run := func(ctx context.Context, progress tui.ProgressFunc) error {
				var err error
				if direct {
					out, err = runDirect(ctx, spec, id, port, progress)
				} else {
					out, err = runViaAPI(ctx, spec, id, focus)
				}
				return err
			}

			title := fmt.Sprintf("%s %d", spec.title, id)
			if isTerminal(os.Stdout) {
				err = tui.RunJob(cmd.Context(), os.Stdout, title, run)
			} else {
				err = run(cmd.Context(), func(int) {})
			}
			if err != nil {
				return explainJobError(err)
			}

			if out.TimedOut {
				fmt.Fprintf(os.Stderr, "still processing on the server after %d attempts (%s); showing the latest state\n",
					out.Attempts, out.Elapsed.Truncate(time.Second))
			}
			spec.print(os.Stdout, out.Article)
			return nil
		},
	}
	cmd.Flags().Bool("direct", false, "talk to the backend directly instead of through `lectern run`")
	cmd.Flags().Bool("focus", false, "cancel this job when another focused job starts for a different article")
	cmd.Flags().Int("port", 0, "backend port for --direct (default: the configured port)")
	return cmd
}

func runViaAPI(ctx context.Context, spec jobSpec, id int64, focus bool) (jobOutcome, error) {
	c, err := apiClient()
	if err != nil {
		return jobOutcome{}, err
	}
	res, err := c.Job(ctx, id, spec.action, focus)
	if err != nil {
		return jobOutcome{}, err
	}
	return jobOutcome{
		Article:  res.Article,
		TimedOut: res.TimedOut,
		Attempts: res.Attempts,
		Elapsed:  time.Duration(res.ElapsedMS) * time.Millisecond,
	}, nil
}

// runDirect checks the backend's health once, then runs the job in process.
func runDirect(ctx context.Context, spec jobSpec, id int64, port int, progress tui.ProgressFunc) (jobOutcome, error) {
	cfg, err := loadConfig()
	if err != nil {
		return jobOutcome{}, err
	}
	if port == 0 {
		port = cfg.PortValue()
	}
	if port == 0 {
		return jobOutcome{}, errors.New("backend.port is allocated at start; pass --port or drop --direct")
	}

	client := backend.ForPort(port, clientOptions(cfg, keychain.NewSystemStore(lecternHome()))...)
	cell, writer := status.New()
	monitor := health.NewMonitor(health.Config{Timeout: cfg.Timing.HealthTimeout.Duration}, client, writer, slog.Default())
	writer.Publish(monitor.CheckOnce(ctx))

	svc := articles.New(client, cell, slog.Default(),
		articles.WithPollOptions(pollOptions(cfg)),
		articles.WithProgress(func(_ string, _ int64, attempt int) { progress(attempt) }),
	)

	res, err := spec.direct(svc, ctx, id)
	if err != nil {
		return jobOutcome{}, err
	}
	return jobOutcome{Article: res.Value, TimedOut: res.TimedOut, Attempts: res.Attempts, Elapsed: res.Elapsed}, nil
}

func explainJobError(err error) error {
	var apiErr *api.Error
	switch {
	case errors.Is(err, articles.ErrServerUnavailable),
		errors.As(err, &apiErr) && apiErr.Kind == api.KindUnavailable:
		return fmt.Errorf("%w: start it with `lectern start`", err)
	case errors.Is(err, articles.ErrSummarizationDisabled),
		errors.As(err, &apiErr) && apiErr.Kind == api.KindSummarizationDisabled:
		return fmt.Errorf("%w: enable it in the backend's settings", err)
	}
	return err
}

func printSummary(w io.Writer, a *backend.Article) {
	if a == nil {
		return
	}
	if a.Title != "" {
		fmt.Fprintf(w, "%s\n\n", a.Title)
	}
	switch {
	case a.FullSummary != "":
		fmt.Fprintln(w, a.FullSummary)
	case a.Summary != "":
		fmt.Fprintln(w, a.Summary)
	default:
		fmt.Fprintln(w, "(no summary yet)")
	}
}

func printRelated(w io.Writer, a *backend.Article) {
	if a == nil {
		return
	}
	if a.RelatedLinksError != "" {
		fmt.Fprintf(w, "related search failed: %s\n", a.RelatedLinksError)
		return
	}
	if len(a.RelatedLinks) == 0 {
		fmt.Fprintln(w, "(no related links yet)")
		return
	}
	for _, l := range a.RelatedLinks {
		fmt.Fprintf(w, "- %s\n  %s\n", l.Title, l.URL)
	}
}

func printContent(w io.Writer, a *backend.Article) {
	if a == nil {
		return
	}
	if a.ContentError != "" {
		fmt.Fprintf(w, "content fetch failed: %s\n", a.ContentError)
		return
	}
	if a.Content == "" {
		fmt.Fprintln(w, "(no content yet)")
		return
	}
	fmt.Fprintln(w, a.Content)
}
