package autosave

// Summarize folds row states into a Summary. The overall status is the most
// urgent row status: error, then saving, then dirty, then saved, then idle.
func Summarize(resourceID string, rows []RowState) Summary {
	s := Summary{ResourceID: resourceID, Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case StatusIdle:
			s.Idle++
		case StatusDirty:
			s.Dirty++
		case StatusSaving:
			s.Saving++
		case StatusSaved:
			s.Saved++
		case StatusError:
			s.Error++
		}
	}
	switch {
	case s.Error > 0:
		s.Status = StatusError
	case s.Saving > 0:
		s.Status = StatusSaving
	case s.Dirty > 0:
		s.Status = StatusDirty
	case s.Saved > 0:
		s.Status = StatusSaved
	default:
		s.Status = StatusIdle
	}
	return s
}

// Summary returns the aggregate status of every row in the editor.
func (e *Editor) Summary() Summary {
	return Summarize(e.opts.ResourceID, e.Rows())
}

// Retryable returns the ids of rows a "retry all" would re-send.
func (e *Editor) Retryable() []string {
	var ids []string
	for _, r := range e.Rows() {
		if r.Dirty && (r.Status == StatusDirty || r.Status == StatusError) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
