package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quatton/qwatch/pkg/qart"
	"github.com/quatton/qwatch/pkg/qrender"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsdk"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs archived with run --archive",
	Long: `List the runs kept by the configured archive backend, newest first.
Use "qwatch runs show <run-id>" to render one of them again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		archive, err := runReader(cfg)
		if err != nil {
			return err
		}
		runs, err := archive.Runs(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintf(out, "No archived runs (%s backend)\n", cfg.Archive.Backend)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tSTATUS\tPROBABILITY\tUPDATED")
		for _, run := range runs {
			prob := "-"
			if run.Result != nil {
				prob = qrender.Percent(run.Result.Probability)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", run.RunID, run.Status, prob, updated(run.UpdatedAt))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Render an archived run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		archive, err := runReader(cfg)
		if err != nil {
			return err
		}
		run, err := archive.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		sdk, err := qsdk.NewSdk(cfg)
		if err != nil {
			return err
		}
		var meta *qrun.Meta
		if cfg.Variant == "" {
			if meta, err = sdk.Client.GetMeta(cmd.Context()); err != nil {
				return fmt.Errorf("no variant configured and service meta unavailable: %w", err)
			}
		}
		catalog, err := sdk.Catalog(meta)
		if err != nil {
			return err
		}

		out, err := qrender.Render(run, catalog)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
}

func runReader(cfg *qsdk.Config) (qart.RunReader, error) {
	a, err := cfg.OpenArchive()
	if err != nil {
		return nil, err
	}
	r, ok := a.(qart.RunReader)
	if !ok {
		return nil, fmt.Errorf("the %s archive cannot list runs", cfg.Archive.Backend)
	}
	return r, nil
}

func updated(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return "-"
	}
	return humanize.Time(t)
}
