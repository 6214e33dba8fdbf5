package autosave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies a failed write.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindVersionConflict
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network_failure"
	case KindVersionConflict:
		return "version_conflict"
	case KindValidation:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// Sentinel errors, matched with errors.Is against a *SaveError.
var (
	ErrNetwork         = errors.New("network failure")
	ErrVersionConflict = errors.New("version conflict")
	ErrValidation      = errors.New("validation failure")
	ErrUnknown         = errors.New("unknown failure")

	ErrClosed              = errors.New("editor closed")
	ErrUnknownRow          = errors.New("unknown row")
	ErrNoConflict          = errors.New("row has no conflict")
	ErrServerVersionAbsent = errors.New("server version unknown")
)

// Error codes used on the wire.
const (
	CodeVersionConflict  = "version_conflict"
	CodeValidationFailed = "validation_failed"
	CodeNetworkFailure   = "network_failure"
	CodeMissingResult    = "missing_result"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindVersionConflict:
		return ErrVersionConflict
	case KindValidation:
		return ErrValidation
	default:
		return ErrUnknown
	}
}

// SaveError describes why a write for ResourceID was rejected.
type SaveError struct {
	Kind            ErrorKind
	ResourceID      string
	Code            string
	Message         string
	ServerVersion   *int64
	ServerUpdatedAt time.Time
	Err             error
}

func (e *SaveError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ResourceID != "" {
		fmt.Fprintf(&b, " [%s]", e.ResourceID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *SaveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// NewConflictError builds a VersionConflict for id.
func NewConflictError(id string, serverVersion *int64, serverUpdatedAt time.Time) *SaveError {
	return &SaveError{
		Kind:            KindVersionConflict,
		ResourceID:      id,
		Code:            CodeVersionConflict,
		Message:         "expected version is stale",
		ServerVersion:   serverVersion,
		ServerUpdatedAt: serverUpdatedAt,
	}
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// KindForCode maps a wire error code to a kind.
func KindForCode(code string) ErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case CodeVersionConflict, "conflict", "stale_version":
		return KindVersionConflict
	case CodeValidationFailed, "validation", "invalid", "bad_request":
		return KindValidation
	case CodeNetworkFailure, "network", "timeout", "unavailable":
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Classify converts any error into a *SaveError. Existing SaveErrors are
// returned as is; transport errors become KindNetwork.
func Classify(err error) *SaveError {
	if err == nil {
		return nil
	}
	var se *SaveError
	if errors.As(err, &se) {
		return se
	}
	kind := KindUnknown
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindNetwork
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		kind = KindNetwork
	case errors.Is(err, ErrNetwork):
		kind = KindNetwork
	case errors.Is(err, ErrVersionConflict):
		kind = KindVersionConflict
	case errors.Is(err, ErrValidation):
		kind = KindValidation
	}
	return &SaveError{Kind: kind, Code: codeFor(kind), Message: err.Error(), Err: err}
}

func codeFor(k ErrorKind) string {
	switch k {
	case KindNetwork:
		return CodeNetworkFailure
	case KindVersionConflict:
		return CodeVersionConflict
	case KindValidation:
		return CodeValidationFailed
	default:
		return ""
	}
}
