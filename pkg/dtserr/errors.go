// Package dtserr defines the task-wide error taxonomy (spec §7): a small
// set of sentinel kinds that every component's error wraps, so callers
// upstream can tell a fatal startup misconfiguration from a retryable
// source disconnect without parsing strings.
package dtserr

import "github.com/cockroachdb/errors"

// Kind classifies an error per the taxonomy in spec §7.
type Kind int

const (
	// KindConfig: malformed URL, unknown parallel type, marker not in
	// schema.tb form. Fatal at startup.
	KindConfig Kind = iota
	// KindMetadata: table or column not found. Fatal within the batch;
	// extractor aborts, positions remain at the last checkpoint.
	KindMetadata
	// KindExtractorIO: source disconnect, binlog unavailable. Retry with
	// backoff; fatal after the retry ceiling.
	KindExtractorIO
	// KindSinkerIO: write failure. Insert batches fall back to serial;
	// DDL applies conflict_policy.
	KindSinkerIO
	// KindParse: malformed check-log line, unreadable rdb block. Logged
	// and skipped in check mode, fatal otherwise.
	KindParse
	// KindInvariant: a row missing an id_cols value where one is needed.
	// Downgraded to the unmerged-serial path, not surfaced as an error.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindMetadata:
		return "metadata"
	case KindExtractorIO:
		return "extractor_io"
	case KindSinkerIO:
		return "sinker_io"
	case KindParse:
		return "parse"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// dtsError carries a Kind alongside the wrapped cause so errors.As can
// recover it anywhere up the call chain.
type dtsError struct {
	kind  Kind
	cause error
}

func (e *dtsError) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *dtsError) Unwrap() error { return e.cause }
func (e *dtsError) Cause() error  { return e.cause }

// New builds a new Kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &dtsError{kind: kind, cause: errors.Newf(format, args...)}
}

// Wrap annotates an existing error with a Kind, preserving the original
// as the cause so errors.Is/As still walk through to it.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &dtsError{kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

// KindOf recovers the Kind tagged onto err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var de *dtsError
	if errors.As(err, &de) {
		return de.kind, true
	}
	return 0, false
}

// Is reports whether err (or something it wraps) was tagged with kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
