package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/procio/internal/config"
	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
	"github.com/charliek/procio/internal/logs"
	"github.com/charliek/procio/internal/stream"
	"github.com/charliek/procio/internal/supervisor"
)

// followBuffer is the subscription buffer used by --follow
const followBuffer = 4096

type batchOptions struct {
	configPath string
	params     domain.LogParams
	json       bool
	follow     bool
	grace      time.Duration
}

// jobReport is the outcome of one batch job
type jobReport struct {
	Job        string            `json:"job"`
	Launched   bool              `json:"launched"`
	Signaled   bool              `json:"signaled"`
	ReturnCode int               `json:"return_code"`
	ExitCode   int               `json:"exit_code"`
	TimedOut   bool              `json:"timed_out,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	InputBytes uint64            `json:"input_bytes"`
	Tail       []domain.LogEntry `json:"tail"`
	Matched    int               `json:"matched"`

	result domain.RunResult
}

func (r jobReport) failed() bool {
	return r.TimedOut || !r.result.Success()
}

func newBatchCmd(g *globals) *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch [job...]",
		Short: "Run the jobs of a job file one after another",
		Long: `Run jobs from a procio.yaml in the order given, or in file order when
none are named. Every job runs through the same supervisor. The last lines
of each job's output are shown as it finishes, followed by a summary.

procio exits with 1 when any job failed.

Examples:
  procio batch                      # every job
  procio batch lint test            # selected jobs
  procio batch --tail 50 --grep FAIL
  procio batch --follow --stream stderr
  procio batch --json | jq '.[] | select(.exit_code != 0)'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("config") {
				path, err := config.FindConfigFile()
				if err != nil {
					return err
				}
				opts.configPath = path
			}
			return runBatch(cmd.Context(), g.logger, opts, args, cmd.OutOrStdout())
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return jobNames(opts.configPath), cobra.ShellCompDirectiveNoFileComp
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", constants.DefaultConfigFile, "Job file")
	f.IntVarP(&opts.params.Lines, "tail", "n", constants.DefaultTailLines, "Output lines shown per job (0 for none)")
	f.StringVar(&opts.params.Pattern, "grep", "", "Only show lines containing this text")
	f.BoolVar(&opts.params.Regex, "regex", false, "Treat --grep as a regular expression")
	f.StringVar(&opts.params.Stream, "stream", "", "Only show lines from stdout or stderr")
	f.BoolVarP(&opts.follow, "follow", "f", false, "Print output live instead of a tail per job")
	f.BoolVar(&opts.json, "json", false, "Print reports as JSON")
	f.DurationVar(&opts.grace, "grace", constants.DefaultStopGrace, "Time between SIGTERM and SIGKILL for timed out jobs")
	return cmd
}

func runBatch(ctx context.Context, logger *slog.Logger, opts batchOptions, names []string, out io.Writer) error {
	if opts.params.Lines < 0 {
		return fmt.Errorf("%w: --tail must not be negative", domain.ErrInvalidConfig)
	}
	if opts.follow && opts.json {
		return fmt.Errorf("%w: --follow and --json cannot be combined", domain.ErrInvalidConfig)
	}
	// Reject a bad pattern before running anything
	if _, err := logs.NewFilter(opts.params.Filter()); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = cfg.Order
	}
	for _, name := range names {
		if _, err := cfg.Job(name); err != nil {
			return err
		}
	}

	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	printer := NewPrinter(out, width)

	mgr := logs.NewManager(logs.ManagerConfig{
		BufferSize:         max(logs.DefaultBufferSize, opts.params.Lines),
		SubscriptionBuffer: followBuffer,
		Logger:             logger,
	})
	defer mgr.Close()

	var following chan struct{}
	var sub *logs.Subscription
	if opts.follow {
		params := opts.params
		params.Jobs = names
		sub, err = mgr.Subscribe(params.Filter())
		if err != nil {
			return err
		}
		following = make(chan struct{})
		go func() {
			defer close(following)
			for entry := range sub.Channel() {
				printer.PrintEntry(entry)
			}
		}()
	}

	sup, err := supervisor.New(supervisor.WithLogger(logger), supervisor.WithChunkSize(cfg.ChunkSize))
	if err != nil {
		return err
	}
	defer sup.Close()

	var reports []jobReport
	for _, name := range names {
		if ctx.Err() != nil {
			logger.Info("interrupted, skipping remaining jobs", "next", name)
			break
		}
		job, _ := cfg.Job(name)
		report, err := runJob(ctx, logger, sup, cfg, name, job, mgr, opts.grace)
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}

		if !opts.follow && opts.params.Lines > 0 {
			report.Tail, report.Matched, err = mgr.QueryLast(opts.params.ForJob(name).Filter(), opts.params.Lines)
			if err != nil {
				return err
			}
			if report.Tail == nil {
				report.Tail = []domain.LogEntry{}
			}
			if !opts.json {
				for _, entry := range report.Tail {
					printer.PrintEntry(entry)
				}
			}
		}
		reports = append(reports, report)
	}

	if opts.follow {
		mgr.Unsubscribe(sub.ID())
		<-following
		if n := sub.Dropped(); n > 0 {
			fmt.Fprintf(out, "%d output lines were not shown (terminal too slow)\n", n)
		}
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("encoding reports: %w", err)
		}
	} else {
		printSummary(out, printer.styles, reports)
	}

	for _, r := range reports {
		if r.failed() {
			return &exitError{code: 1}
		}
	}
	if len(reports) < len(names) {
		return &exitError{code: 1}
	}
	return nil
}

// runJob runs one job to completion on sup, storing its output in mgr
func runJob(ctx context.Context, logger *slog.Logger, sup *supervisor.Supervisor, cfg *config.Config, name string, job config.JobConfig, mgr *logs.Manager, grace time.Duration) (jobReport, error) {
	env, err := cfg.JobEnv(job)
	if err != nil {
		return jobReport{}, err
	}
	cmd := supervisor.Command{Args: job.Argv(), Env: env, Dir: cfg.JobDir(job)}

	var stdout, stderr stream.Sink = stream.Discard(), stream.Discard()
	if job.CaptureStdout() {
		stdout = mgr.Sink(name, domain.StreamStdout)
	}
	if job.CaptureStderr() {
		stderr = mgr.Sink(name, domain.StreamStderr)
	}

	runCtx := ctx
	if d := job.TimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	logger.Debug("starting job", "job", name, "cmd", cmd.String())
	start := time.Now()
	sentBefore := sup.StdIn().BytesSent()
	if err := sup.Run(cmd, nil, stdout, stderr); err != nil {
		return jobReport{}, err
	}

	stdin := sup.StdIn()
	if job.Input != "" {
		if err := stdin.WriteAll(runCtx, []byte(job.Input)); err != nil && runCtx.Err() == nil {
			logger.Debug("job stopped taking input", "job", name, "error", err)
		}
	}
	stdin.RequestClose()

	timedOut := false
	if err := sup.WaitTerminationContext(runCtx); err != nil {
		timedOut = ctx.Err() == nil
		logger.Warn("stopping job", "job", name, "pid", sup.ChildPid(), "reason", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		_ = sup.Stop(stopCtx)
		cancel()
	}

	result, _ := sup.Result()
	report := jobReport{
		Job:        name,
		Launched:   result.Launched(),
		Signaled:   result.Signaled,
		ReturnCode: result.ReturnCode,
		ExitCode:   result.ExitCode(),
		TimedOut:   timedOut,
		ErrorCode:  domain.ErrorCode(result.Err),
		DurationMs: time.Since(start).Milliseconds(),
		InputBytes: stdin.BytesSent() - sentBefore,
		Tail:       []domain.LogEntry{},
		result:     result,
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	logger.Debug("job finished", "job", name, "result", result.String())
	return report, nil
}

func printSummary(out io.Writer, s styles, reports []jobReport) {
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCODE\tDURATION\tRESULT")
	fmt.Fprintln(w, "---\t----\t--------\t------")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			r.Job, r.ExitCode, formatDuration(time.Duration(r.DurationMs)*time.Millisecond), s.status(r.result, r.TimedOut))
	}
	w.Flush()
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		m, sec := int(d.Minutes()), int(d.Seconds())%60
		if sec == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, sec)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// jobNames returns job names from the job file for shell completion
func jobNames(path string) []string {
	cfg, err := config.Load(path)
	if err != nil {
		return nil
	}
	return cfg.Order
}
