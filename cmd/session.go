package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/config"
	"github.com/marcus/gridsave/internal/faults"
	"github.com/marcus/gridsave/internal/features"
	"github.com/marcus/gridsave/internal/writeclient"
)

// editorFlags are the overrides shared by simulate and edit.
type editorFlags struct {
	server   string
	mode     string
	debounce time.Duration
	policy   string
	resource string
}

func (f *editorFlags) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("editor", pflag.ContinueOnError)
	fs.StringVar(&f.server, "server", "", "document API base URL (default from config)")
	fs.StringVar(&f.mode, "mode", "", "save mode: row or batch")
	fs.DurationVar(&f.debounce, "debounce", 0, "idle time before a save (default from config)")
	fs.StringVar(&f.policy, "policy", "", "conflict policy: surface, overwrite or discard_local")
	fs.StringVar(&f.resource, "resource", "grid", "resource id shown in logs and summaries")
	return fs
}

// session is an editor wired to the document API, optionally behind the
// fault harness.
type session struct {
	editor *autosave.Editor
	client *writeclient.Client
	cfg    config.Config
	store  faults.Store
	// raw marks rows whose server payload is JSON other than a string
	raw map[string]bool
}

func openSession(ctx context.Context, f editorFlags) (*session, error) {
	base := getBaseDir()
	cfg, err := config.Resolve(base)
	if err != nil {
		return nil, err
	}
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.mode != "" {
		cfg.Mode = f.mode
	} else if features.IsEnabled(base, features.BatchSaves.Name) {
		cfg.Mode = autosave.ModeBatch.String()
	}
	if f.debounce > 0 {
		cfg.Debounce = config.Duration(f.debounce)
	}
	if f.policy != "" {
		cfg.ConflictPolicy = f.policy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode, err := autosave.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	client := writeclient.New(cfg.ServerURL)
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("server %s unreachable: %w", cfg.ServerURL, err)
	}

	policy, err := autosave.PolicyByName(cfg.ConflictPolicy, decodingFetcher{client})
	if err != nil {
		return nil, err
	}

	var writer autosave.BatchWriter = client
	if mode == autosave.ModeRow {
		writer = autosave.SingleWriter(client)
	}

	s := &session{client: client, cfg: cfg, raw: make(map[string]bool)}
	if faults.Enabled && features.IsEnabled(base, features.FaultInjection.Name) {
		target := config.FaultStorePath(base, cfg.FaultStore)
		store, err := faults.Open(target)
		if err != nil {
			return nil, fmt.Errorf("open fault store: %w", err)
		}
		s.store = store
		writer = faults.Wrap(writer, faults.Config{Source: store})
		slog.Info("fault injection active", "store", target)
	}

	ed, err := autosave.New(autosave.Options{
		ResourceID:  f.resource,
		Mode:        mode,
		Debounce:    cfg.Debounce.Std(),
		BatchWriter: writer,
		Policy:      policy,
	})
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.editor = ed
	return s, nil
}

// seed loads the server copy of every id that exists so edits carry the
// right expected version. Unknown ids stay unversioned.
func (s *session) seed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		doc, err := s.client.Fetch(ctx, id)
		if err != nil {
			if errors.Is(err, writeclient.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load %s: %w", id, err)
		}
		snapshot := cellPayload(doc.Payload)
		if _, ok := snapshot.(json.RawMessage); ok {
			s.raw[id] = true
		}
		if err := s.editor.Seed(id, snapshot, autosave.Version(doc.Version)); err != nil {
			return err
		}
	}
	return nil
}

// markCell hands typed text for row id to the editor.
func (s *session) markCell(id, text string) error {
	return s.editor.MarkDirty(id, cellInput(text, s.raw[id]))
}

// cellSaver is the editor as the grid sees it: the grid types text and the
// session turns it into cell snapshots.
type cellSaver struct {
	*autosave.Editor
	s *session
}

func (c cellSaver) MarkDirty(id string, snapshot any) error {
	if text, ok := snapshot.(string); ok {
		return c.s.markCell(id, text)
	}
	return c.Editor.MarkDirty(id, snapshot)
}

func (s *session) close(ctx context.Context) error {
	err := s.editor.Close(ctx)
	s.closeStore()
	return err
}

func (s *session) closeStore() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

// decodingFetcher returns server payloads as the cell values the CLI edits,
// so adopted snapshots hash like locally typed ones.
type decodingFetcher struct {
	client *writeclient.Client
}

func (d decodingFetcher) Fetch(ctx context.Context, id string) (autosave.Document, error) {
	doc, err := d.client.Fetch(ctx, id)
	if err != nil {
		return doc, err
	}
	doc.Payload = cellPayload(doc.Payload)
	return doc, nil
}

// parseAssignment splits "row=value".
func parseAssignment(s string) (id, value string, err error) {
	id, value, ok := strings.Cut(s, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", "", fmt.Errorf("expected row=value, got %q", s)
	}
	return id, value, nil
}

// cellPayload turns a stored payload into the snapshot a cell holds. JSON
// strings become Go strings; any other JSON stays raw so saving it back keeps
// its type.
func cellPayload(payload any) any {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		if payload == nil {
			return ""
		}
		return payload
	}
	if len(raw) > 0 && raw[0] == '"' {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return raw
}

// cellInput is the snapshot for text typed into a cell. Cells that held raw
// JSON take the text as JSON whenever it parses.
func cellInput(text string, raw bool) any {
	if raw && json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	return text
}

// cellValue turns a payload or snapshot into the string a cell shows.
// Payloads that are not JSON strings are shown as raw JSON.
func cellValue(payload any) string {
	switch p := payload.(type) {
	case string:
		return p
	case json.RawMessage:
		var v string
		if err := json.Unmarshal(p, &v); err == nil {
			return v
		}
		return string(p)
	case nil:
		return ""
	default:
		return fmt.Sprint(p)
	}
}
