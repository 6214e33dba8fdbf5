package autosave

import "github.com/marcus/gridsave/internal/changehash"

// The version guard attaches the last acknowledged version to every write and
// turns a rejected item into a classified SaveError. Versions advance only
// through accept.

func (r *row) request() WriteRequest {
	expected := r.version
	if r.override != nil {
		expected = r.override
	}
	return WriteRequest{
		ResourceID:      r.id,
		Payload:         r.snapshot,
		ExpectedVersion: copyVersion(expected),
	}
}

// accept advances the row baseline after an acknowledged write of sent.
// A success without a version leaves the previous version in place.
func (r *row) accept(sent sentItem, o Outcome) {
	r.savedHash = sent.hash
	if o.NewVersion != nil {
		r.version = copyVersion(o.NewVersion)
	}
	if !o.UpdatedAt.IsZero() {
		r.updatedAt = o.UpdatedAt
	}
	r.override = nil
	r.err = nil
	r.conflict = nil
	r.failedHash = changehash.None
}

// itemError classifies a failed item. A result is a failure when Success is
// false or when it carries an error string.
func itemError(res ItemResult) *SaveError {
	if res.Success && res.Error == "" {
		return nil
	}
	if res.Err != nil {
		se := *Classify(res.Err)
		if se.ResourceID == "" {
			se.ResourceID = res.ItemID
		}
		if se.ServerVersion == nil {
			se.ServerVersion = copyVersion(res.ServerVersion)
		}
		if se.ServerUpdatedAt.IsZero() {
			se.ServerUpdatedAt = res.ServerUpdatedAt
		}
		return &se
	}
	code := res.Code
	if code == "" {
		code = res.Error
	}
	kind := KindForCode(code)
	msg := res.Error
	if msg == "" {
		msg = "write rejected"
	}
	return &SaveError{
		Kind:            kind,
		ResourceID:      res.ItemID,
		Code:            code,
		Message:         msg,
		ServerVersion:   copyVersion(res.ServerVersion),
		ServerUpdatedAt: res.ServerUpdatedAt,
	}
}

func copyVersion(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Version returns a pointer to v, for building requests and seeds.
func Version(v int64) *int64 { return &v }
