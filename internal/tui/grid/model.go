// Package grid is the interactive grid editor behind "gridsave edit". Every
// keystroke in a cell is handed to the autosave engine; row status changes
// stream back through a subscription.
package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/gridsave/internal/autosave"
)

// Saver is the part of *autosave.Editor the grid drives.
type Saver interface {
	MarkDirty(id string, snapshot any) error
	Flush() error
	Retry(id string) error
	RetryAll() (int, error)
	ResolveConflict(id string, action autosave.ConflictAction, snapshot any, version *int64) error
	Rows() []autosave.RowState
}

// Options configures a Model.
type Options struct {
	ResourceID string
	Saver      Saver
	// Updates delivers row state changes, usually from Editor.Subscribe.
	Updates <-chan autosave.RowState
	// Fetcher loads the server copy for "discard local". Optional.
	Fetcher autosave.Fetcher
	// IDs lists the rows to show, in order. Rows the saver already knows
	// are appended when missing.
	IDs []string
	Now func() time.Time
}

// Model is the Bubble Tea model for the grid editor.
type Model struct {
	ResourceID string

	saver   Saver
	updates <-chan autosave.RowState
	fetcher autosave.Fetcher
	now     func() time.Time

	// Window dimensions
	Width  int
	Height int

	// Rows
	IDs    []string
	States map[string]autosave.RowState
	Cursor int
	Offset int

	// Cell editing
	Editing  bool
	Input    textinput.Model
	original string

	ShowHelp bool
	Message  string
	Err      error
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 8

// RowStateMsg carries one row state change.
type RowStateMsg autosave.RowState

// updatesClosedMsg reports that the editor stopped publishing.
type updatesClosedMsg struct{}

// FetchedMsg carries the server copy loaded for a discard.
type FetchedMsg struct {
	ID  string
	Doc autosave.Document
	Err error
}

// NewModel creates a grid model.
func NewModel(opts Options) Model {
	ti := textinput.New()
	ti.CharLimit = 4096
	ti.Prompt = ""

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := Model{
		ResourceID: opts.ResourceID,
		saver:      opts.Saver,
		updates:    opts.Updates,
		fetcher:    opts.Fetcher,
		now:        now,
		States:     make(map[string]autosave.RowState),
		Input:      ti,
	}
	for _, id := range opts.IDs {
		m.addRow(autosave.RowState{ID: id, Status: autosave.StatusIdle})
	}
	for _, st := range opts.Saver.Rows() {
		m.addRow(st)
	}
	return m
}

func (m *Model) addRow(st autosave.RowState) {
	if _, ok := m.States[st.ID]; !ok {
		m.IDs = append(m.IDs, st.ID)
	}
	m.States[st.ID] = st
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

// waitForUpdate returns a command that blocks on the next row state change.
func (m Model) waitForUpdate() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	ch := m.updates
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return RowStateMsg(st)
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Editing {
			return m.handleEditKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Input.Width = m.valueWidth()
		m.ensureCursorVisible()
		return m, nil

	case RowStateMsg:
		m.addRow(autosave.RowState(msg))
		return m, m.waitForUpdate()

	case updatesClosedMsg:
		m.updates = nil
		return m, nil

	case FetchedMsg:
		return m.applyFetched(msg), nil
	}

	return m, nil
}

// SelectedID returns the id of the row under the cursor, or "".
func (m Model) SelectedID() string {
	if m.Cursor < 0 || m.Cursor >= len(m.IDs) {
		return ""
	}
	return m.IDs[m.Cursor]
}

// handleKey processes key input while navigating
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.Message, m.Err = "", nil
	id := m.SelectedID()

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		if m.Cursor < len(m.IDs)-1 {
			m.Cursor++
		}
		m.ensureCursorVisible()
		return m, nil

	case "k", "up":
		if m.Cursor > 0 {
			m.Cursor--
		}
		m.ensureCursorVisible()
		return m, nil

	case "enter", "e":
		if id == "" {
			return m, nil
		}
		m.Editing = true
		m.original = cellText(m.States[id].Snapshot)
		m.Input.SetValue(m.original)
		m.Input.CursorEnd()
		return m, m.Input.Focus()

	case "r":
		if id != "" {
			m.Err = m.saver.Retry(id)
		}
		return m, nil

	case "R":
		n, err := m.saver.RetryAll()
		m.Err = err
		if err == nil {
			m.Message = fmt.Sprintf("retrying %d row(s)", n)
		}
		return m, nil

	case "ctrl+s":
		m.Err = m.saver.Flush()
		return m, nil

	case "o":
		if !m.hasConflict(id) {
			m.Message = "no conflict on this row"
			return m, nil
		}
		m.Err = m.saver.ResolveConflict(id, autosave.ActionOverwrite, nil, nil)
		return m, nil

	case "d":
		if !m.hasConflict(id) {
			m.Message = "no conflict on this row"
			return m, nil
		}
		if m.fetcher == nil {
			m.Message = "no server to load from"
			return m, nil
		}
		m.Message = "loading server copy of " + id
		return m, m.fetch(id)

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// handleEditKey processes key input while a cell is being edited. Every
// change is reported to the saver, which debounces it.
func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.SelectedID()

	switch msg.String() {
	case "enter":
		m.stopEditing()
		return m, nil

	case "esc":
		if m.Input.Value() != m.original {
			m.Err = m.saver.MarkDirty(id, m.original)
		}
		m.stopEditing()
		return m, nil

	case "ctrl+s":
		m.Err = m.saver.Flush()
		return m, nil

	case "ctrl+c":
		return m, tea.Quit
	}

	before := m.Input.Value()
	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	if after := m.Input.Value(); after != before {
		m.Err = m.saver.MarkDirty(id, after)
	}
	return m, cmd
}

func (m *Model) stopEditing() {
	m.Editing = false
	m.Input.Blur()
	m.original = ""
}

func (m Model) hasConflict(id string) bool {
	st, ok := m.States[id]
	return ok && st.Conflict != nil
}

// fetch returns a command that loads the server copy of id.
func (m Model) fetch(id string) tea.Cmd {
	f := m.fetcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		doc, err := f.Fetch(ctx, id)
		return FetchedMsg{ID: id, Doc: doc, Err: err}
	}
}

func (m Model) applyFetched(msg FetchedMsg) Model {
	if msg.Err != nil {
		m.Message = ""
		m.Err = fmt.Errorf("load %s: %w", msg.ID, msg.Err)
		return m
	}
	m.Err = m.saver.ResolveConflict(msg.ID, autosave.ActionDiscardLocal, msg.Doc.Payload, autosave.Version(msg.Doc.Version))
	if m.Err == nil {
		m.Message = fmt.Sprintf("%s now matches server v%d", msg.ID, msg.Doc.Version)
	}
	return m
}

// Summary aggregates the rows on screen.
func (m Model) Summary() autosave.Summary {
	rows := make([]autosave.RowState, 0, len(m.IDs))
	for _, id := range m.IDs {
		rows = append(rows, m.States[id])
	}
	return autosave.Summarize(m.ResourceID, rows)
}

// visibleRows is how many grid rows fit between header and footer.
func (m Model) visibleRows() int {
	h := m.Height - 6
	if h < 1 {
		return 1
	}
	return h
}

func (m *Model) ensureCursorVisible() {
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if v := m.visibleRows(); m.Cursor >= m.Offset+v {
		m.Offset = m.Cursor - v + 1
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// cellText is the editable text of a snapshot.
func cellText(snapshot any) string {
	switch v := snapshot.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
