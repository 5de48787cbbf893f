package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/advisory"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/audit"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/diagnostics"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/events"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/ingest"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/logging"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/pipeline"
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize <input>",
	Short: "Anonymize a cohort file into personas",
	Long: `Run the anonymization pipeline over a cohort file (JSON, NDJSON, or CSV).

The run result is persisted to the run store and the personas and risk
metrics are written to the output directory.

Examples:
  # Anonymize with the configured domain and defaults
  personatwin anonymize cohort.json

  # Healthcare domain with a fixed seed for reproducible output
  personatwin anonymize --domain healthcare --seed 42 records.ndjson

  # Tighter risk target, NDJSON output
  personatwin anonymize --target-risk 0.02 --format ndjson cohort.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runAnonymize,
}

func init() {
	rootCmd.AddCommand(anonymizeCmd)

	anonymizeCmd.Flags().String("domain", "", "rule domain (criminal_justice, healthcare, education, social_services, employment)")
	anonymizeCmd.Flags().Int64("seed", 0, "random seed (0 means derived from wall clock)")
	anonymizeCmd.Flags().Int("iterations", 0, "maximum escalation iterations")
	anonymizeCmd.Flags().Float64("target-risk", 0, "population average risk target")
	anonymizeCmd.Flags().String("out", "", "output directory")
	anonymizeCmd.Flags().String("format", "", "output format (json, ndjson)")

	_ = viper.BindPFlag("pipeline.domain", anonymizeCmd.Flags().Lookup("domain"))
	_ = viper.BindPFlag("pipeline.seed", anonymizeCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("pipeline.max_iterations", anonymizeCmd.Flags().Lookup("iterations"))
	_ = viper.BindPFlag("protection.target_risk", anonymizeCmd.Flags().Lookup("target-risk"))
	_ = viper.BindPFlag("output.dir", anonymizeCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("output.format", anonymizeCmd.Flags().Lookup("format"))
}

func runAnonymize(_ *cobra.Command, args []string) error {
	inputPath := args[0]
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	params, err := cfg.Protection.Params()
	if err != nil {
		return err
	}
	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}

	individuals, err := ingest.ReadIndividuals(inputPath)
	if err != nil {
		return err
	}
	logger.Info("cohort loaded",
		"input", inputPath,
		"individuals", len(individuals),
		"domain", registry.Domain(),
	)

	runStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer func() { _ = runStore.Close() }()

	bus := events.New(64)
	defer bus.Close()
	stopProgress := startProgressLog(bus, logger)
	defer stopProgress()

	seed := cfg.Pipeline.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := &core.Run{
		ID:        uuid.NewString(),
		Domain:    registry.Domain(),
		Status:    core.RunStatusRunning,
		Seed:      seed,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := runStore.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}

	controller := pipeline.New(registry,
		pipeline.WithRunID(run.ID),
		pipeline.WithProvider(provider),
		pipeline.WithAdvisor(advisory.NewHeuristic()),
		pipeline.WithMaxIterations(cfg.Pipeline.MaxIterations),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithLogger(logger),
		pipeline.WithEventBus(bus),
	)

	dumper := diagnostics.NewCrashDumpWriter("", 10, true, false, logger.Logger, nil)
	dumper.SetInputPath(inputPath)
	dumper.SetCurrentRun(run.ID, "pipeline")

	var result *pipeline.Result
	runErr := func() (err error) {
		defer dumper.RecoverAndReturn(&err)
		result, err = controller.Run(ctx, individuals, params, seed)
		return err
	}()
	dumper.ClearCurrentRun()

	now := time.Now().UTC()
	run.CompletedAt = &now
	if runErr != nil {
		run.Status = core.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = result.Status
		run.Personas = result.Personas
		run.Metrics = result.Metrics
		run.Iterations = result.Iterations
		run.Params = result.Params
	}
	if saveErr := runStore.SaveRun(context.Background(), run); saveErr != nil {
		logger.Warn("persisting run result", "run_id", run.ID, "error", saveErr)
	}

	if runErr != nil {
		return runErr
	}

	trail := audit.New(audit.WithActor("cli"))
	if _, err := trail.Record(audit.OpGenerate, run.ID, "", nil, map[string]interface{}{
		"domain":     run.Domain,
		"iterations": run.Iterations,
		"status":     string(run.Status),
	}); err != nil {
		return fmt.Errorf("recording run audit entry: %w", err)
	}
	exporter, err := ingest.NewExporter(cfg.Output.Dir, cfg.Output.Format,
		ingest.WithAuditTrail(trail))
	if err != nil {
		return err
	}
	paths, err := exporter.WriteRun(run)
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if !quiet {
		fmt.Printf("Run %s %s after %d iteration(s)\n", run.ID, run.Status, run.Iterations)
		fmt.Printf("  personas:        %d (from %d individuals)\n", len(run.Personas), len(individuals))
		fmt.Printf("  average risk:    %.4f (target %.4f)\n", run.Metrics.PopulationAverageRisk, run.Params.TargetRisk)
		fmt.Printf("  k-anonymity:     %d\n", run.Metrics.KAnonymity)
		fmt.Printf("  recommendation:  %s\n", run.Metrics.Recommendation)
		for _, p := range paths {
			fmt.Printf("  wrote %s\n", p)
		}
	}

	return nil
}

// startProgressLog mirrors pipeline events into the logger so long runs show
// their escalation history. Returns a stop function.
func startProgressLog(bus *events.EventBus, logger *logging.Logger) func() {
	ch := bus.Subscribe(
		events.EventIterationCompleted,
		events.EventEscalationApplied,
		events.EventBucketResidual,
	)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range ch {
			switch ev := e.(type) {
			case events.IterationCompletedEvent:
				logger.Info("iteration completed",
					"run_id", ev.RunID(),
					"iteration", ev.Iteration,
					"risk", ev.PopulationRisk,
					"k", ev.KAnonymity,
					"personas", ev.Personas,
				)
			case events.EscalationAppliedEvent:
				logger.Info("escalation applied",
					"run_id", ev.RunID(),
					"iteration", ev.Iteration,
					"knob", ev.Knob,
					"detail", ev.Detail,
				)
			case events.BucketResidualEvent:
				logger.Warn("bucket withheld",
					"run_id", ev.RunID(),
					"bucket", ev.Bucket,
					"members", ev.Members,
				)
			}
		}
	}()

	return func() {
		bus.Unsubscribe(ch)
		<-done
	}
}
