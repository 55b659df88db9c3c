package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"issuetriage/internal/config"
	"issuetriage/internal/domain"
	"issuetriage/internal/export"
	"issuetriage/internal/httpx"
	"issuetriage/internal/integrations/llm"
	"issuetriage/internal/integrations/redmine"
	slackbot "issuetriage/internal/integrations/slack"
	"issuetriage/internal/schedule"
	"issuetriage/internal/storage/sqlite"
	"issuetriage/internal/triage"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func Main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	limit       int
	watch       bool
	exportPath  string
	exportLabel string
	history     int
	ticketID    int64
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("issuetriage", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: issuetriage [flags] [ticket-id]\n\n"+
			"Classifies a ticket into a project and category. Without a ticket id,\n"+
			"sweeps the uncategorized backlog.\n\nFlags:\n")
		flagSet.PrintDefaults()
	}
	flagSet.StringVar(&opts.configPath, "config", "", "path to config.yaml (default: $CONFIG_PATH or ./config.yaml)")
	flagSet.IntVar(&opts.limit, "limit", 0, "tickets per backlog sweep (default: sweep_limit)")
	flagSet.BoolVar(&opts.watch, "watch", false, "sweep the backlog on sweep_schedule until interrupted")
	flagSet.StringVar(&opts.exportPath, "export", "", "write the training dataset CSV to this path and exit")
	flagSet.StringVar(&opts.exportLabel, "export-label", string(export.LabelProject), "dataset label column: project or category")
	flagSet.IntVar(&opts.history, "history", 0, "print the last N classification runs and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if opts.limit < 0 || opts.history < 0 {
		return opts, fmt.Errorf("--limit and --history must not be negative")
	}

	rest := flagSet.Args()
	switch len(rest) {
	case 0:
	case 1:
		id, err := strconv.ParseInt(strings.TrimPrefix(rest[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			return opts, fmt.Errorf("invalid ticket id %q", rest[0])
		}
		opts.ticketID = id
	default:
		return opts, fmt.Errorf("unexpected argument: %s", rest[1])
	}
	if opts.ticketID != 0 && opts.watch {
		return opts, fmt.Errorf("--watch cannot be combined with a ticket id")
	}
	return opts, nil
}

// Run executes one invocation and returns the process exit status.
func Run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	label, err := export.ParseLabelColumn(opts.exportLabel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitUsage
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Tracker=%s LLMProvider=%s LLMModel=%s SkipProjectStage=%t VerifyUpdates=%t SweepLimit=%d Slack=%t ExternalHTTPTimeout=%s",
		cfg.RedmineURL,
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.SkipProjectStage,
		cfg.VerifyUpdates,
		cfg.SweepLimit,
		cfg.SlackConfigured(),
		appliedHTTPTimeout,
	)

	if opts.history > 0 {
		return printHistory(cfg, opts.history, stdout, stderr)
	}

	tracker, err := redmine.New(redmine.Options{
		BaseURL:         cfg.RedmineURL,
		APIKey:          cfg.RedmineAPIKey,
		HTTPClient:      httpx.ExternalHTTPClient(),
		PageSize:        cfg.TrackerPageSize,
		PageDelay:       cfg.TrackerPageDelay(),
		BacklogPageSize: cfg.BacklogPageSize,
	})
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitUsage
	}

	ctx := context.Background()
	if opts.watch {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if opts.exportPath != "" {
		rows, err := export.ExportFile(ctx, tracker, opts.exportPath, label)
		if err != nil {
			fmt.Fprintf(stderr, "export failed: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "Exported %d rows to %s\n", rows, opts.exportPath)
		return exitOK
	}

	inferencer, err := llm.New(llm.Options{
		Provider:        cfg.LLMProvider,
		Model:           cfg.LLMModel,
		OllamaURL:       cfg.OllamaURL,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		HTTPClient:      httpx.ExternalHTTPClient(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitUsage
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init database: %v\n", err)
		return exitFailure
	}
	defer db.Close()
	log.Printf("Database initialized at %s", cfg.DBPath)

	pipelineOpts := triage.Options{
		SkipProjectStage: cfg.SkipProjectStage,
		VerifyUpdates:    cfg.VerifyUpdates,
		Provider:         inferencer.Provider(),
		Model:            inferencer.Model(),
		Recorder:         sqlite.Recorder{DB: db},
	}
	if cfg.SlackConfigured() {
		pipelineOpts.Notifier = slackbot.NewNotifier(cfg.SlackBotToken, cfg.SlackChannelID, cfg.RedmineURL, "")
	}
	pipeline := triage.New(tracker, inferencer, pipelineOpts)

	limit := opts.limit
	if limit == 0 {
		limit = cfg.SweepLimit
	}

	switch {
	case opts.ticketID != 0:
		res, err := pipeline.ClassifyByID(ctx, opts.ticketID)
		fmt.Fprintln(stdout, describeResult(res))
		if err != nil {
			return exitFailure
		}
		return exitOK

	case opts.watch:
		watcher, err := schedule.NewWatcher(pipeline, cfg.SweepSchedule, cfg.Location, limit)
		if err != nil {
			fmt.Fprintf(stderr, "config error: %v\n", err)
			return exitUsage
		}
		if err := watcher.Run(ctx); err != nil {
			fmt.Fprintf(stderr, "watch failed: %v\n", err)
			return exitFailure
		}
		return exitOK

	default:
		sweep, err := pipeline.Sweep(ctx, limit)
		for _, res := range sweep.Results {
			fmt.Fprintln(stdout, describeResult(res))
		}
		if err != nil {
			fmt.Fprintf(stderr, "sweep failed: %v\n", err)
			return exitFailure
		}
		if sweep.Failed > 0 {
			return exitFailure
		}
		return exitOK
	}
}

func describeResult(res triage.Result) string {
	switch {
	case res.Stage == triage.StageNoBacklog:
		return "No uncategorized tickets."
	case res.Err != nil:
		return fmt.Sprintf("#%d: failed at %s: %v", res.TicketID, res.Stage, res.Err)
	case res.Stage == triage.StageAlreadyClassified:
		return fmt.Sprintf("#%d: already classified as %q, nothing to do", res.TicketID, res.Category.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#%d: project %q", res.TicketID, res.Project.Name)
	if res.ProjectChanged {
		b.WriteString(" (moved")
		if res.ProjectUpdateErr != nil {
			b.WriteString(", update failed")
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ", category %q", res.Category.Name)
	if res.Category.OwnerID != 0 {
		fmt.Fprintf(&b, ", assigned to user %d", res.Category.OwnerID)
	}
	return b.String()
}

func printHistory(cfg config.Config, limit int, stdout, stderr io.Writer) int {
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init database: %v\n", err)
		return exitFailure
	}
	defer db.Close()

	runs, err := sqlite.RecentRuns(db, limit)
	if err != nil {
		fmt.Fprintf(stderr, "reading history: %v\n", err)
		return exitFailure
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No classification runs recorded.")
		return exitOK
	}
	for _, r := range runs {
		fmt.Fprintln(stdout, formatRun(r, cfg.Location))
	}
	printWeekStats(db, stdout)
	return exitOK
}

func formatRun(r domain.ClassificationRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	line := fmt.Sprintf("%s  #%-6d %-10s %-18s", r.ClassifiedAt.In(loc).Format("2006-01-02 15:04"), r.TicketID, r.Outcome, r.Stage)
	switch r.Outcome {
	case domain.OutcomeClassified:
		line += fmt.Sprintf(" %s / %s", r.ProjectName, r.CategoryName)
	case domain.OutcomeFailed:
		line += " " + r.Error
	}
	return strings.TrimRight(line, " ")
}

func printWeekStats(db *sql.DB, stdout io.Writer) {
	stats, err := sqlite.GetRunStats(db, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		log.Printf("history stats error: %v", err)
		return
	}
	fmt.Fprintf(stdout, "\nLast 7 days: %d runs, %d classified, %d skipped, %d failed, %d project moves\n",
		stats.Total, stats.Classified, stats.Skipped, stats.Failed, stats.ProjectChanges)
}
