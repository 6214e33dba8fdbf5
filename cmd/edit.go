package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/features"
	"github.com/marcus/gridsave/internal/output"
	"github.com/marcus/gridsave/internal/tui/grid"
)

var editFlags editorFlags

// gridIDs returns the rows to open: the arguments, or every document on the
// server when there are none.
func gridIDs(ctx context.Context, s *session, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	docs, err := s.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

var editCmd = &cobra.Command{
	Use:   "edit [row...]",
	Short: "Edit rows in an autosaving grid",
	Long: `Open an interactive grid over documents on the server. Typing in a cell marks
the row dirty and it saves after the debounce window. Each row shows whether it
is idle, dirty, saving, saved or failed.

Without arguments every document on the server is opened.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !output.IsTerminal(os.Stdout) {
			return errors.New("edit needs a terminal; use simulate for scripted edits")
		}

		ctx := cmd.Context()
		s, err := openSession(ctx, editFlags)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ids, err := gridIDs(ctx, s, args)
		if err == nil {
			err = s.seed(ctx, ids)
		}
		if err != nil {
			_ = s.close(ctx)
			output.Error("%v", err)
			return err
		}

		updates, unsubscribe := s.editor.Subscribe(256)
		model := grid.NewModel(grid.Options{
			ResourceID: editFlags.resource,
			Saver:      cellSaver{Editor: s.editor, s: s},
			Updates:    updates,
			Fetcher:    decodingFetcher{s.client},
			IDs:        ids,
		})

		_, runErr := tea.NewProgram(model, tea.WithAltScreen()).Run()
		unsubscribe()

		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.editor.Flush(); err == nil {
			if err := s.editor.WaitSettled(closeCtx); err != nil {
				output.Warning("writes still in flight: %v", err)
			}
		}
		rows := s.editor.Rows()
		if err := s.close(closeCtx); err != nil {
			output.Warning("%v", err)
		}
		if runErr != nil {
			return runErr
		}

		summary := autosave.Summarize(editFlags.resource, rows)
		fmt.Println(output.FormatSummary(summary))
		for _, st := range rows {
			if st.Status == autosave.StatusError || st.Dirty {
				fmt.Println("  " + output.FormatRow(st, time.Now()))
			}
		}
		return nil
	},
}

func init() {
	editCmd.Flags().AddFlagSet(editFlags.flagSet())
	addFeatureGatedCommand(features.EditorTUI.Name, editCmd)
}
