package manager

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("download manager is closed")
	ErrCancelled = errors.New("part cancelled after a sibling failed")
)

// ProbeError describes a failed metadata probe. It is logged, never returned:
// the download falls back to a single unranged fetch.
type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// FilenameResolutionError is returned synchronously by AddDownloadTask when
// no filename could be derived; no task is created.
type FilenameResolutionError struct {
	URL string
	Err error
}

func (e *FilenameResolutionError) Error() string {
	return fmt.Sprintf("resolve filename for %s: %v", e.URL, e.Err)
}

func (e *FilenameResolutionError) Unwrap() error {
	return e.Err
}

// StreamError is a failure inside one part. It is reported once per parent
// through Observer.OnError and ends the whole group.
type StreamError struct {
	Op       string
	ParentID string
	ChildID  string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s part %s of %s: %v", e.Op, e.ChildID, e.ParentID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

type statusError struct {
	Code  int
	Range string
}

func (e *statusError) Error() string {
	if e.Range == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.Range)
}
