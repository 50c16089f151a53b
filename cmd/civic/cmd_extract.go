package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"civicbot/internal/articulation"
	"civicbot/internal/calendar"
	"civicbot/internal/perception"
	"civicbot/internal/types"
)

var (
	extractJSON     bool
	extractICS      string
	extractQuestion string
)

// extractCmd runs the marker pipeline on a saved model answer.
var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract and sanitize cards from a model answer (stdin when no file)",
	Long: `Reads a raw model answer, extracts every marker card and applies the same
sanitization a live conversation would (year, window, grouping, place checks),
without calling the model. No conversation ledger is used.

Examples:
  civic extract answer.txt
  civic extract --question "¿qué hay este finde?" --json < answer.txt
  civic extract answer.txt --ics agenda.ics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "Print the DisplayMessage as JSON")
	extractCmd.Flags().StringVar(&extractICS, "ics", "", "Also write event cards as iCalendar to this path (\"-\" for stdout)")
	extractCmd.Flags().StringVarP(&extractQuestion, "question", "q", "", "Question the answer replied to (enables time-window filtering)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read answer: %w", err)
	}

	st, err := buildStack(cmd.Context(), cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	kind, _ := perception.DetectTemporalWindow(extractQuestion)
	ex := st.extractor.Extract(string(raw), cfg.Documents)
	for _, w := range ex.Warnings {
		logger.Sugar().Debugf("extract: %s", w)
	}
	res := st.sanitizer.Sanitize(cmd.Context(), ex, nil, kind)
	if verbose {
		printExtractStats(cmd.ErrOrStderr(), st.extractor.GetStats(), ex.Warnings)
	}

	out := cmd.OutOrStdout()
	if extractICS != "" {
		if err := writeICS(out, extractICS, res.Message.Events); err != nil {
			return err
		}
		if extractICS == "-" {
			return nil
		}
	}
	if extractJSON {
		return writeMessageJSON(out, res.Message)
	}
	fmt.Fprint(out, renderMessage(res.Message, renderOptions{}))
	return nil
}

func printExtractStats(w io.Writer, s articulation.ProcessorStats, warnings []string) {
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf(
		"events=%d places=%d malformed=%d missing_fields=%d unknown_documents=%d",
		s.EventsExtracted, s.PlacesExtracted, s.MalformedPayloads, s.MissingFields, s.UnknownDocuments)))
	for _, warn := range warnings {
		fmt.Fprintln(w, dimStyle.Render("  skipped "+warn))
	}
}

func writeICS(stdout io.Writer, path string, events []types.EventEntity) error {
	loc, _ := cfg.Location()
	opts := calendar.Options{Name: cfg.City.Name, Location: loc}
	if path == "-" {
		return calendar.Encode(stdout, events, opts)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := calendar.Encode(f, events, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
