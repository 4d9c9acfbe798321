package manager

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/tanq16/parafetch/internal/planner"
)

// Target is what a part fetches: either one planned byte range or the whole
// resource. A parent holds one WholeFile part or only RangedPart parts.
type Target interface {
	isTarget()
}

type RangedPart struct {
	Range planner.Range
}

type WholeFile struct{}

func (RangedPart) isTarget() {}
func (WholeFile) isTarget()  {}

type State int

const (
	StateCreated State = iota
	StateFetching
	StateCompleted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFetching:
		return "fetching"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// child is the registry value for one part. It is stored and handed out by
// value; only the response handle is shared.
type child struct {
	ID         string
	ParentID   string
	URL        string
	Target     Target
	PartSize   int64
	Downloaded int64
	State      State
	handle     *responseHandle
}

func (c child) progress() PartProgress {
	return PartProgress{Downloaded: c.Downloaded, Size: c.PartSize}
}

type parentTask struct {
	ID        string
	URL       string
	Filename  string
	Dir       string
	TotalSize int64
	ChildIDs  []string
	announced bool
	result    *Result
	fileOnce  sync.Once
	fileErr   error
}

func (p *parentTask) path() string {
	return filepath.Join(p.Dir, p.Filename)
}

// prepareFile creates the destination once per parent and sizes it to the
// total so every part can write at its own offset. An existing file is left
// untouched.
func (p *parentTask) prepareFile() error {
	p.fileOnce.Do(func() {
		f, err := os.OpenFile(p.path(), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			return
		}
		if err != nil {
			p.fileErr = err
			return
		}
		defer f.Close()
		if p.TotalSize > 0 {
			p.fileErr = f.Truncate(p.TotalSize)
		}
	})
	return p.fileErr
}

// Result is the outcome of one parent task.
type Result struct {
	ParentID  string
	URL       string
	Filename  string
	Path      string
	TotalSize int64
	Parts     int
	Err       error
}

// responseHandle is the in-flight GET of one part. The request starts when
// the handle is created; the handle owns the response until Close.
type responseHandle struct {
	ready  chan struct{}
	cancel context.CancelFunc
	mu     sync.Mutex
	resp   *http.Response
	err    error
	closed bool
}

func startFetch(ctx context.Context, client Client, req *http.Request) *responseHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &responseHandle{ready: make(chan struct{}), cancel: cancel}
	go h.run(client, req.WithContext(ctx))
	return h
}

func (h *responseHandle) run(client Client, req *http.Request) {
	defer close(h.ready)
	resp, err := client.Do(req)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		if resp != nil {
			resp.Body.Close()
		}
		h.err = ErrCancelled
		return
	}
	h.resp, h.err = resp, err
}

// Wait blocks until response headers arrive, the handle is closed, or ctx
// ends.
func (h *responseHandle) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed && h.resp == nil {
		return nil, ErrCancelled
	}
	return h.resp, h.err
}

func (h *responseHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close cancels the request and closes the body. Safe to call from any
// goroutine and any number of times.
func (h *responseHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	resp := h.resp
	h.mu.Unlock()
	h.cancel()
	if resp != nil {
		resp.Body.Close()
	}
}
