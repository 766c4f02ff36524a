package cli

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/straja-ai/piiscope/internal/classify"
	"github.com/straja-ai/piiscope/internal/dataset"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file.csv>",
	Short: "Recommend a detection mode from a dataset's columns",
	Long: `Inspect the header of a CSV file and recommend a detection mode.

A "text" column recommends descriptive (NER) detection; otherwise any of
fname, lname, email, phone, address or cc_number recommends tabular detection.

	Examples:
	  piiscope classify customers.csv
	  piiscope classify notes.csv --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer in.Close()
		ds, err := dataset.ReadCSV(in)
		if err != nil {
			return fmt.Errorf("reading dataset: %w", err)
		}
		mode := classify.Recommend(ds.Columns())

		out := cmd.OutOrStdout()
		if flagJSON {
			return json.NewEncoder(out).Encode(map[string]any{
				"columns":     ds.Columns(),
				"records":     ds.Len(),
				"mode":        string(mode),
				"recommended": mode != classify.ModeNone,
			})
		}
		fmt.Fprintf(out, "Columns: %s\n", strings.Join(ds.Columns(), ", "))
		fmt.Fprintf(out, "Records: %d\n", ds.Len())
		if mode == classify.ModeNone {
			fmt.Fprintln(out, "Recommended mode: none (choose --mode tabular or --mode descriptive)")
			return nil
		}
		fmt.Fprintf(out, "Recommended mode: %s\n", mode)
		return nil
	},
}
