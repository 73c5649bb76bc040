package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/dispatch"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/recorder"
	"github.com/roach88/btdebug/internal/server"
	"github.com/roach88/btdebug/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	RunID        string // run for lines without run_id
	ConfigHash   string // strategy_config_hash for runs created here
	Cleanup      bool   // delete the database before ingesting
	EnsureServer bool   // spawn a detached server afterwards
}

// IngestResult is the output of the ingest command.
type IngestResult struct {
	Runs  []string `json:"runs"`
	Lines int      `json:"lines"`
	recorder.Stats
}

func (r IngestResult) String() string {
	return fmt.Sprintf("ingested %d event(s) into %s (%d duplicate, %d failed)",
		r.Inserted, strings.Join(r.Runs, ", "), r.Duplicates, r.Failed)
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events.jsonl|->",
		Short: "Append JSONL events to a database",
		Long: `Append one event per line to the database, creating it if missing.

Each line is an event object:

  {"event_id":"...","run_id":"...","timestamp":"2024-01-02T09:30:00Z",
   "event_type":"PositionUpdate","severity":"info","category":"portfolio",
   "properties":{"security":"AAPL","quantity":10}}

Enum values are case-insensitive. Missing event_id values are generated,
missing run_id values take --run-id (or a new run ID), and missing
severity/category default to Info/Execution. A run record is created the
first time a run ID is seen, starting at that event's timestamp.

Examples:
  btdebug ingest --database ./events.db events.jsonl
  producer | btdebug ingest --database ./events.db --cleanup --ensure-server -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run ID for events without one (default: a new ULID)")
	cmd.Flags().StringVar(&opts.ConfigHash, "config-hash", "", "strategy config hash for new runs")
	cmd.Flags().BoolVar(&opts.Cleanup, "cleanup", false, "delete the database and companions first")
	cmd.Flags().BoolVar(&opts.EnsureServer, "ensure-server", false, "start a detached server when none is running")

	return cmd
}

func runIngest(opts *IngestOptions, source string, cmd *cobra.Command) error {
	cfg := opts.Config
	if err := cfg.RequireDatabase(); err != nil {
		return WrapExitError(ExitCommandError, "ingest", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	in, closeIn, err := openSource(source, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeIn()

	if opts.Cleanup {
		if err := server.CleanupDatabase(ctx, cfg.Database, cfg.CleanupAttempts, cfg.CleanupDelay); err != nil {
			return WrapExitError(ExitFailure, "cleanup failed", err)
		}
	}

	st, err := store.Open(cfg.Database, store.WithDriver(cfg.Driver))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeStore(st)

	defaultRun := opts.RunID
	if defaultRun == "" {
		defaultRun = event.NewRunID()
	}
	rec := recorder.New(st, defaultRun,
		recorder.WithBatchSize(cfg.BatchSize),
		recorder.WithFlushInterval(cfg.FlushInterval))

	ing := &ingester{store: st, rec: rec, defaultRun: defaultRun, configHash: opts.ConfigHash, seen: map[string]bool{}}
	lines, readErr := ing.readAll(ctx, in)

	// Close flushes whatever was accepted before a bad line.
	if err := rec.Close(context.WithoutCancel(ctx)); err != nil {
		return WrapExitError(ExitFailure, "failed to write events", err)
	}
	if readErr != nil {
		return WrapExitError(ExitFailure, "ingest stopped", readErr)
	}

	result := IngestResult{Runs: ing.runs, Lines: lines, Stats: rec.Stats()}
	if result.Runs == nil {
		result.Runs = []string{}
	}
	slog.Info("ingest complete", "database", cfg.Database, "inserted", result.Inserted, "duplicates", result.Duplicates)

	if opts.EnsureServer {
		spawned, err := ensureServer(opts.RootOptions, cfg)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to start server", err)
		}
		slog.Info("server ensured", "spawned", spawned, "instance", cfg.InstanceName)
	}
	return opts.formatter(cmd).Success(result)
}

func openSource(source string, cmd *cobra.Command) (io.Reader, func(), error) {
	if source == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

type ingester struct {
	store      *store.Store
	rec        *recorder.Recorder
	defaultRun string
	configHash string
	seen       map[string]bool
	runs       []string
}

// readAll records every non-blank line and returns the number of events
// accepted. It stops at the first invalid line.
func (g *ingester) readAll(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), dispatch.MaxLineBytes)

	n, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}

		e, err := decodeEventLine(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if e.RunID == "" {
			e.RunID = g.defaultRun
		}
		if err := g.ensureRun(ctx, e); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := g.rec.Record(e); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read input: %w", err)
	}
	return n, nil
}

// ensureRun creates the run record the first time a run ID appears.
// Existing runs are reused so a file can be ingested in several passes.
func (g *ingester) ensureRun(ctx context.Context, e event.Event) error {
	if g.seen[e.RunID] {
		return nil
	}
	exists, err := g.store.RunExists(ctx, e.RunID)
	if err != nil {
		return err
	}
	if !exists {
		if e.Timestamp.IsZero() {
			return apperr.InvalidArgument("timestamp is required (event %s)", e.ID)
		}
		run := event.Run{ID: e.RunID, StartTime: e.Timestamp, StrategyConfigHash: g.configHash}
		if err := g.store.CreateRun(ctx, run); err != nil {
			return err
		}
		slog.Debug("run created", "run_id", e.RunID, "start_time", e.Timestamp)
	}
	g.seen[e.RunID] = true
	g.runs = append(g.runs, e.RunID)
	return nil
}

// decodeEventLine parses one JSONL event and canonicalizes its enums.
func decodeEventLine(line []byte) (event.Event, error) {
	var e event.Event
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return event.Event{}, apperr.Wrap(apperr.CodeInvalidArgument, "malformed event", err)
	}

	t, err := event.ParseType(string(e.Type))
	if err != nil {
		return event.Event{}, err
	}
	e.Type = t

	if e.Severity == "" {
		e.Severity = event.SeverityInfo
	} else if e.Severity, err = event.ParseSeverity(string(e.Severity)); err != nil {
		return event.Event{}, err
	}
	if e.Category == "" {
		e.Category = event.CategoryExecution
	} else if e.Category, err = event.ParseCategory(string(e.Category)); err != nil {
		return event.Event{}, err
	}
	for i, ve := range e.ValidationErrors {
		if ve.Severity == "" {
			e.ValidationErrors[i].Severity = event.SeverityWarning
			continue
		}
		if e.ValidationErrors[i].Severity, err = event.ParseSeverity(string(ve.Severity)); err != nil {
			return event.Event{}, err
		}
	}
	return e, nil
}
