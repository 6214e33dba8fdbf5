package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/input"
	"github.com/marcus/gridsave/internal/output"
)

var simulateFlags editorFlags

// step is one parsed simulate instruction.
type step struct {
	kind  string // edit, wait, flush, retry
	id    string
	value string
	wait  time.Duration
}

// parseSteps parses simulate instructions, one per line:
//
//	row-1=42        edit a cell
//	wait 1500ms     let time pass
//	flush           save everything now
//	retry [row]     retry one row or every failed row
func parseSteps(lines []string) ([]step, error) {
	steps := make([]step, 0, len(lines))
	for i, line := range lines {
		st, err := parseStep(strings.TrimSpace(line))
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i+1, err)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func parseStep(text string) (step, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return step{}, fmt.Errorf("empty instruction")
	}
	switch fields[0] {
	case "wait", "sleep":
		if len(fields) != 2 {
			return step{}, fmt.Errorf("usage: wait <duration>")
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			return step{}, err
		}
		return step{kind: "wait", wait: d}, nil
	case "flush":
		return step{kind: "flush"}, nil
	case "retry":
		if len(fields) > 2 {
			return step{}, fmt.Errorf("usage: retry [row]")
		}
		st := step{kind: "retry"}
		if len(fields) == 2 {
			st.id = fields[1]
		}
		return st, nil
	}
	id, value, err := parseAssignment(text)
	if err != nil {
		return step{}, err
	}
	return step{kind: "edit", id: id, value: value}, nil
}

func editedIDs(steps []step) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, st := range steps {
		if st.kind == "edit" && !seen[st.id] {
			seen[st.id] = true
			ids = append(ids, st.id)
		}
	}
	return ids
}

func runSteps(ctx context.Context, s *session, steps []step) error {
	ed := s.editor
	for _, st := range steps {
		var err error
		switch st.kind {
		case "edit":
			err = s.markCell(st.id, st.value)
		case "wait":
			select {
			case <-time.After(st.wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		case "flush":
			err = ed.Flush()
		case "retry":
			if st.id == "" {
				_, err = ed.RetryAll()
			} else {
				err = ed.Retry(st.id)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// rowView is the JSON shape of one row in simulate output.
type rowView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Version   *int64 `json:"version,omitempty"`
	Value     string `json:"value"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func viewRow(st autosave.RowState) rowView {
	v := rowView{
		ID:      st.ID,
		Status:  st.Status.String(),
		Version: st.Version,
		Value:   cellValue(st.Snapshot),
		Error:   output.RowProblem(st),
	}
	if st.Err != nil {
		v.Code = st.Err.Code
	}
	if !st.UpdatedAt.IsZero() {
		v.UpdatedAt = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [row=value...]",
	Short: "Drive an autosave editor from a script",
	Long: `Feed edits into an autosave editor against a running server and print the
resulting row statuses.

Instructions come from the arguments, or from stdin when there are none.
An argument of - reads stdin and @path reads a file, one instruction per line:

  row-1=42        edit a cell
  wait 1500ms     let time pass (debounce windows elapse)
  flush           save everything now
  retry [row]     retry one row or every failed row

Pending edits are flushed at the end. The command fails when any row ends in
error.`,
	Example: `  gridsave simulate a=1 b=2
  gridsave simulate a=1 @more-edits.txt
  printf 'a=1\nwait 2s\na=2\n' | gridsave simulate --mode batch`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			if output.IsTerminal(os.Stdin) {
				fmt.Fprintln(os.Stderr, "reading instructions from stdin (ctrl+d to finish)")
			}
			args = []string{"-"}
		}
		lines, err := input.ExpandArgs(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		steps, err := parseSteps(lines)
		if err != nil {
			return err
		}
		if len(editedIDs(steps)) == 0 {
			return fmt.Errorf("no edits given")
		}

		ctx := cmd.Context()
		timeout, _ := cmd.Flags().GetDuration("timeout")

		s, err := openSession(ctx, simulateFlags)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if noSeed, _ := cmd.Flags().GetBool("no-seed"); !noSeed {
			if err := s.seed(ctx, editedIDs(steps)); err != nil {
				_ = s.close(ctx)
				output.Error("%v", err)
				return err
			}
		}

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			updates, cancel := s.editor.Subscribe(64)
			defer cancel()
			go func() {
				for st := range updates {
					fmt.Fprintln(os.Stderr, output.FormatRow(st, time.Now()))
				}
			}()
		}

		if err := runSteps(ctx, s, steps); err != nil {
			_ = s.close(ctx)
			output.Error("%v", err)
			return err
		}

		settleCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.editor.Flush(); err != nil {
			return err
		}
		if err := s.editor.WaitSettled(settleCtx); err != nil {
			output.Warning("writes still in flight: %v", err)
		}
		rows := s.editor.Rows()
		summary := autosave.Summarize(simulateFlags.resource, rows)
		if err := s.close(settleCtx); err != nil {
			output.Warning("%v", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			views := make([]rowView, 0, len(rows))
			for _, st := range rows {
				views = append(views, viewRow(st))
			}
			if err := output.JSON(map[string]any{
				"resource": summary.ResourceID,
				"status":   summary.Status.String(),
				"rows":     views,
			}); err != nil {
				return err
			}
		} else {
			fmt.Print(output.SectionHeader("rows"))
			now := time.Now()
			width := output.TerminalWidth(120)
			for _, st := range rows {
				fmt.Println(output.FitWidth("  "+output.FormatRow(st, now), width))
			}
			fmt.Println()
			fmt.Println(output.FormatSummary(summary))
		}

		if summary.Error > 0 {
			return fmt.Errorf("%d row(s) failed to save", summary.Error)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().AddFlagSet(simulateFlags.flagSet())
	simulateCmd.Flags().Bool("json", false, "print rows as JSON")
	simulateCmd.Flags().Bool("watch", false, "print every row status change to stderr")
	simulateCmd.Flags().Bool("no-seed", false, "do not load server versions before editing")
	simulateCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for writes to settle")
	rootCmd.AddCommand(simulateCmd)
}
