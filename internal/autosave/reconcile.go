package autosave

import (
	"time"
)

// Outcome is the reconciled result for one row of a write.
type Outcome struct {
	OK         bool
	NewVersion *int64
	UpdatedAt  time.Time
	Err        *SaveError
}

// Reconcile maps a batch response onto the ids that were sent. Each id gets
// exactly one Outcome and no outcome affects another id. A call-level error
// fails every sent id with the same classification. Sent ids with no result
// fail with CodeMissingResult. Results for ids that were not sent are
// returned in unknown, and ids answered more than once in duplicate; the
// first answer wins. Neither affects any outcome.
func Reconcile(sent []string, results []ItemResult, callErr error) (outcomes map[string]Outcome, unknown, duplicate []string) {
	outcomes = make(map[string]Outcome, len(sent))
	if callErr != nil {
		base := Classify(callErr)
		for _, id := range sent {
			se := *base
			se.ResourceID = id
			outcomes[id] = Outcome{Err: &se}
		}
		return outcomes, nil, nil
	}

	want := make(map[string]bool, len(sent))
	for _, id := range sent {
		want[id] = true
	}
	for _, res := range results {
		if !want[res.ItemID] {
			unknown = append(unknown, res.ItemID)
			continue
		}
		if _, dup := outcomes[res.ItemID]; dup {
			duplicate = append(duplicate, res.ItemID)
			continue
		}
		if se := itemError(res); se != nil {
			outcomes[res.ItemID] = Outcome{Err: se, UpdatedAt: res.ServerUpdatedAt}
			continue
		}
		outcomes[res.ItemID] = Outcome{
			OK:         true,
			NewVersion: copyVersion(res.NewVersion),
			UpdatedAt:  res.ServerUpdatedAt,
		}
	}
	for _, id := range sent {
		if _, ok := outcomes[id]; !ok {
			outcomes[id] = Outcome{Err: &SaveError{
				Kind:       KindUnknown,
				ResourceID: id,
				Code:       CodeMissingResult,
				Message:    "no result returned for item",
			}}
		}
	}
	return outcomes, unknown, duplicate
}
