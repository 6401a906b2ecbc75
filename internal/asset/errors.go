package asset

import "errors"

var (
	ErrUnauthenticated      = errors.New("caller is not authenticated")
	ErrEmptyPayload         = errors.New("payload is empty")
	ErrPayloadTooLarge      = errors.New("payload exceeds upload limit")
	ErrUnsupportedMedia     = errors.New("payload is not audio or video")
	ErrInvalidName          = errors.New("invalid object name")
	ErrInvalidStage         = errors.New("no object has been uploaded")
	ErrNoInputText          = errors.New("no input text to summarize")
	ErrNoActiveAsset        = errors.New("no active asset")
	ErrOperationInProgress  = errors.New("operation already in progress")
	ErrRenameInProgress     = errors.New("rename already in progress")
	ErrCopyFailed           = errors.New("copy to new object name failed")
	ErrOrphanedSourceObject = errors.New("source object could not be deleted")
	ErrStaleResponse        = errors.New("response refers to a superseded asset")
)

// Kind classifies an error for callers deciding how to present it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindRemote       Kind = "remote"
	KindCompensation Kind = "compensation"
	KindStale        Kind = "stale"
)

// Error is returned by every pipeline operation that does not succeed cleanly.
// Err is either one of the sentinels above or the remote collaborator's error,
// in which case its message is surfaced verbatim.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind returns the classification as a plain string.
func (e *Error) ErrorKind() string { return string(e.Kind) }

func Validation(op string, err error) error { return &Error{Kind: KindValidation, Op: op, Err: err} }

func Remote(op string, err error) error { return &Error{Kind: KindRemote, Op: op, Err: err} }

func Compensation(op string, err error) error {
	return &Error{Kind: KindCompensation, Op: op, Err: err}
}

func Stale(op string) error { return &Error{Kind: KindStale, Op: op, Err: ErrStaleResponse} }

// KindOf extracts the classification of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
