package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/straja-ai/piiscope/internal/classify"
	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/engine"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/export"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/store"
	"github.com/straja-ai/piiscope/internal/summary"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// PasswordEnv is read when --archive is set without --password.
const PasswordEnv = "PIISCOPE_ARCHIVE_PASSWORD"

var (
	flagDetectInput       string
	flagDetectMode        string
	flagDetectTextField   string
	flagDetectGroup       string
	flagDetectPIITypes    []string
	flagDetectHIITypes    []string
	flagDetectKeyword     string
	flagDetectRedactPII   []string
	flagDetectRedactHII   []string
	flagDetectArchive     string
	flagDetectPassword    string
	flagDetectRecords     string
	flagDetectEntities    string
	flagDetectWords       string
	flagDetectIndex       bool
	flagDetectParallelism int
)

func init() {
	addDetectFlags(detectCmd)
	rootCmd.AddCommand(detectCmd)
}

func addDetectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagDetectInput, "input", "i", "", "CSV dataset to scan (- for stdin)")
	cmd.Flags().StringVarP(&flagDetectMode, "mode", "m", "", "tabular or descriptive (default: recommended from columns)")
	cmd.Flags().StringVar(&flagDetectTextField, "text-field", classify.TextColumn, "column holding free text for descriptive runs")
	cmd.Flags().StringVarP(&flagDetectGroup, "group", "g", "both", "entities to show: both, pii or hii")
	cmd.Flags().StringSliceVar(&flagDetectPIITypes, "pii-types", nil, "only show these PII types")
	cmd.Flags().StringSliceVar(&flagDetectHIITypes, "hii-types", nil, "only show these HII types")
	cmd.Flags().StringVarP(&flagDetectKeyword, "keyword", "k", "", "only show entities whose displayed value contains this text")
	cmd.Flags().StringSliceVar(&flagDetectRedactPII, "redact-pii", nil, "PII types to replace with "+redact.Sentinel)
	cmd.Flags().StringSliceVar(&flagDetectRedactHII, "redact-hii", nil, "HII types to replace with "+redact.Sentinel)
	cmd.Flags().StringVar(&flagDetectArchive, "archive", "", "write the filtered entities to an encrypted archive")
	cmd.Flags().StringVar(&flagDetectPassword, "password", "", "archive password (or $"+PasswordEnv+")")
	cmd.Flags().StringVar(&flagDetectRecords, "records", "", "write the dataset with a leading Risk_Score column")
	cmd.Flags().StringVar(&flagDetectEntities, "entities", "", "write the filtered entities as CSV")
	cmd.Flags().StringVar(&flagDetectWords, "words", "", "write the space-joined entity values (word cloud text)")
	cmd.Flags().BoolVar(&flagDetectIndex, "index", false, "push the run to the configured index sinks")
	cmd.Flags().IntVarP(&flagDetectParallelism, "parallelism", "p", 0, "concurrent labeler calls (0 = config)")
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect, score and report PII/HII in a dataset",
	Long: `Run a detection over a CSV dataset and print the entities found.

Filters and redaction only change what is shown and exported; the run
itself is never modified. Redaction is applied before the keyword filter,
so a redacted value only matches a keyword found in "[REDACTED]".

	Examples:
	  piiscope detect -i customers.csv
	  piiscope detect -i notes.csv --mode descriptive --group hii
	  piiscope detect -i customers.csv --redact-pii EMAIL,PHONE --archive out.psz`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

type detectOutput struct {
	RunID    string           `json:"run_id"`
	Mode     string           `json:"mode"`
	Labeler  string           `json:"labeler"`
	Title    string           `json:"title"`
	PII      []entity.Entity  `json:"pii"`
	HII      []entity.Entity  `json:"hii"`
	Summary  summary.Summary  `json:"summary"`
	Warnings []engine.Warning `json:"warnings,omitempty"`
	Index    []indexOutcome   `json:"index,omitempty"`
}

type indexOutcome struct {
	Sink  string `json:"sink"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func runDetect(cmd *cobra.Command, _ []string) error {
	group, err := store.ParseSelection(flagDetectGroup)
	if err != nil {
		return err
	}
	var mode classify.Mode
	if flagDetectMode != "" {
		m, ok := classify.ParseMode(flagDetectMode)
		if !ok {
			return fmt.Errorf("unknown mode %q (want tabular or descriptive)", flagDetectMode)
		}
		mode = m
	}
	password := flagDetectPassword
	if password == "" {
		password = os.Getenv(PasswordEnv)
	}
	if flagDetectArchive != "" && password == "" {
		return fmt.Errorf("--archive needs --password or $%s", PasswordEnv)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := openInput(flagDetectInput)
	if err != nil {
		return err
	}
	ds, err := dataset.ReadCSV(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}
	if mode == classify.ModeNone {
		mode = classify.Recommend(ds.Columns())
		if mode == classify.ModeNone {
			return fmt.Errorf("no detection mode could be inferred from columns %v; pass --mode", ds.Columns())
		}
		redact.Logf("using recommended mode %q", mode)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, flagDetectIndex)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	run, err := a.engine.Run(ctx, ds, engine.Options{
		Mode:        mode,
		TextField:   flagDetectTextField,
		Parallelism: flagDetectParallelism,
		Progress:    logProgress(ds.Len()),
	})
	if err != nil {
		return err
	}

	st := a.engine.Store(run)
	view := st.View(store.Filter{
		Group:    group,
		PIITypes: typeFlag(cmd, "pii-types", flagDetectPIITypes),
		HIITypes: typeFlag(cmd, "hii-types", flagDetectHIITypes),
		Keyword:  flagDetectKeyword,
	}, redact.Policy{
		PII: redact.NewTypeSet(flagDetectRedactPII...),
		HII: redact.NewTypeSet(flagDetectRedactHII...),
	})
	sum := summary.Aggregate(view, run.RecordScores)

	if err := writeDetectFiles(run, view, password, cfg.Export.Archive); err != nil {
		return err
	}

	var outcomes []indexOutcome
	if flagDetectIndex {
		outcomes = indexRun(ctx, a, run)
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return json.NewEncoder(out).Encode(detectOutput{
			RunID:    run.ID,
			Mode:     string(run.Mode),
			Labeler:  run.Labeler,
			Title:    run.Title(),
			PII:      nonNilEntities(view.PII),
			HII:      nonNilEntities(view.HII),
			Summary:  sum,
			Warnings: run.Warnings,
			Index:    outcomes,
		})
	}
	printDetect(out, run, view, sum, outcomes)
	return nil
}

func logProgress(total int) func(done, total int) {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return func(done, total int) {
		if done%step == 0 || done == total {
			redact.Debugf("processed %d/%d records", done, total)
		}
	}
}

func writeDetectFiles(run *engine.DetectionRun, view store.View, password string, opts export.ArchiveOptions) error {
	if flagDetectEntities != "" {
		var buf bytes.Buffer
		if err := export.WriteEntitiesCSV(&buf, view.All()); err != nil {
			return err
		}
		if err := os.WriteFile(flagDetectEntities, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing entities: %w", err)
		}
	}
	if flagDetectRecords != "" {
		var buf bytes.Buffer
		err := export.WriteAugmentedCSV(&buf, export.Scored{
			Dataset:      run.Dataset,
			RecordIndex:  run.RecordIndex,
			RecordScores: run.RecordScores,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagDetectRecords, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing records: %w", err)
		}
	}
	if flagDetectWords != "" {
		if err := os.WriteFile(flagDetectWords, []byte(export.WordText(view)), 0o600); err != nil {
			return fmt.Errorf("writing words: %w", err)
		}
	}
	if flagDetectArchive != "" {
		var buf bytes.Buffer
		if err := export.WriteArchive(&buf, view, password, opts); err != nil {
			return fmt.Errorf("building archive: %w", err)
		}
		if err := os.WriteFile(flagDetectArchive, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing archive: %w", err)
		}
	}
	return nil
}

func indexRun(ctx context.Context, a *app, run *engine.DetectionRun) []indexOutcome {
	if a.emitter == nil {
		redact.Warnf("--index set but no index sink is configured")
		return nil
	}
	results := a.emitter.Deliver(ctx, index.NewBatch(run.ID, run.CreatedAt, run.PII, run.HII))
	out := make([]indexOutcome, 0, len(results))
	for _, r := range results {
		o := indexOutcome{Sink: r.Sink, OK: r.OK()}
		if r.Err != nil {
			o.Error = redact.String(r.Err.Error())
			redact.Warnf("index sink %s failed: %v", r.Sink, r.Err)
		}
		out = append(out, o)
	}
	return out
}

// typeFlag keeps an unset type flag nil (every type) and turns an explicitly
// empty one into a non-nil empty list (no types).
func typeFlag(cmd *cobra.Command, name string, vals []string) []string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	if vals == nil {
		return []string{}
	}
	return vals
}

func printDetect(w io.Writer, run *engine.DetectionRun, view store.View, sum summary.Summary, outcomes []indexOutcome) {
	fmt.Fprintf(w, "%s (%s, %d records, run %s)\n\n", run.Title(), run.Mode, run.Records(), run.ID)

	for _, g := range []taxonomy.Group{taxonomy.GroupPII, taxonomy.GroupHII} {
		if !view.Filter.Group.Includes(g) {
			continue
		}
		ents := view.Group(g)
		fmt.Fprintf(w, "%s entities (%d)\n", g, len(ents))
		if len(ents) == 0 {
			fmt.Fprintln(w, "  none")
			fmt.Fprintln(w)
			continue
		}
		withCategory := ents[0].Category != ""
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		header := strings.Join(export.EntityHeader, "\t")
		if withCategory {
			header += "\tCategory"
		}
		fmt.Fprintln(tw, "  "+header)
		for _, e := range ents {
			if withCategory {
				fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", e.Value, e.Type, e.RiskScore, e.Category)
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\n", e.Value, e.Type, e.RiskScore)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Summary")
	fmt.Fprintf(w, "  Total records:  %d\n", sum.Records)
	fmt.Fprintf(w, "  Total entities: %d\n", sum.Entities)
	if sum.Empty {
		fmt.Fprintln(w, "  Most common:    n/a")
	} else {
		fmt.Fprintf(w, "  Most common:    %s (%d)\n", sum.MostCommonType, sum.MostCommonCount)
	}
	if sum.Risk.Valid {
		fmt.Fprintf(w, "  Record risk:    mean %.2f, std %.2f, min %d, max %d\n",
			sum.Risk.Mean, sum.Risk.StdDev, sum.Risk.Min, sum.Risk.Max)
	}

	if len(run.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d)\n", len(run.Warnings))
		for _, wr := range run.Warnings {
			fmt.Fprintf(w, "  %s\n", wr)
		}
	}
	if len(outcomes) > 0 {
		fmt.Fprintln(w, "\nIndex "+run.IndexName())
		for _, o := range outcomes {
			if o.OK {
				fmt.Fprintf(w, "  %s: ok\n", o.Sink)
			} else {
				fmt.Fprintf(w, "  %s: failed: %s\n", o.Sink, o.Error)
			}
		}
	}
}

func nonNilEntities(e []entity.Entity) []entity.Entity {
	if e == nil {
		return []entity.Entity{}
	}
	return e
}
