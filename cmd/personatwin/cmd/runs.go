package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/audit"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/ingest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted anonymization runs",
}

var runsListLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		runs, err := st.ListRuns(context.Background(), runsListLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tDOMAIN\tITER\tPERSONAS\tRISK\tCREATED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4f\t%s\n",
				run.ID, run.Status, run.Domain, run.Iterations,
				len(run.Personas), run.Metrics.PopulationAverageRisk,
				run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var runsExport bool

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		run, err := st.GetRun(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("run:         %s\n", run.ID)
		fmt.Printf("status:      %s\n", run.Status)
		fmt.Printf("domain:      %s\n", run.Domain)
		fmt.Printf("seed:        %d\n", run.Seed)
		fmt.Printf("iterations:  %d\n", run.Iterations)
		fmt.Printf("personas:    %d\n", len(run.Personas))
		fmt.Printf("risk:        %.4f (target %.4f)\n", run.Metrics.PopulationAverageRisk, run.Params.TargetRisk)
		fmt.Printf("k-anonymity: %d\n", run.Metrics.KAnonymity)
		fmt.Printf("created:     %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
		if run.CompletedAt != nil {
			fmt.Printf("completed:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		if run.Error != "" {
			fmt.Printf("error:       %s\n", run.Error)
		}

		if runsExport {
			if !run.Status.Terminal() {
				return fmt.Errorf("run %s is still %s, nothing to export", run.ID, run.Status)
			}
			exporter, err := ingest.NewExporter(cfg.Output.Dir, cfg.Output.Format,
				ingest.WithAuditTrail(audit.New(audit.WithActor("cli"))))
			if err != nil {
				return err
			}
			paths, err := exporter.WriteRun(run)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Printf("wrote %s\n", p)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 20, "maximum runs to list (0 = all)")
	runsShowCmd.Flags().BoolVar(&runsExport, "export", false, "re-export personas and metrics to the output directory")
}
