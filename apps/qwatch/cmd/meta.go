package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quatton/qwatch/pkg/qsdk"
	"github.com/quatton/qwatch/pkg/qsdk/qerr"
)

var metaJSON bool

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Show the model, fields and stages the service announces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		sdk, err := qsdk.NewSdk(cfg)
		if err != nil {
			return err
		}
		meta, err := sdk.Client.GetMeta(cmd.Context())
		if err != nil {
			return qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("reading service meta: %w", err))
		}

		out := cmd.OutOrStdout()
		if metaJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		}

		fmt.Fprintf(out, "Service: %s\n", sdk.BaseURL)
		fmt.Fprintf(out, "Model:   %s %s (%s)\n\n", meta.Model, meta.Version, meta.Variant)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tREQUIRED\tDEFAULT\tLABEL")
		for _, f := range meta.Fields {
			def := "-"
			if f.Default != nil {
				def = fmt.Sprint(f.Default)
			}
			req := "no"
			if f.Required {
				req = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, req, def, f.Label)
		}
		if len(meta.Stages) > 0 {
			fmt.Fprintln(tw, "\nSTAGE\tARTIFACT\tLABEL\t")
			for _, st := range meta.Stages {
				artifact := st.ArtifactKey
				if artifact == "" {
					artifact = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", st.Key, artifact, st.Label)
			}
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(metaCmd)
	metaCmd.Flags().BoolVar(&metaJSON, "json", false, "print the raw meta document")
}
