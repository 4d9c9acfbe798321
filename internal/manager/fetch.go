package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// awaitDownload drives one part from Created to a terminal state. Failures
// never leave this function: they are routed into the group cascade.
func (m *Manager) awaitDownload(ctx context.Context, id string) {
	claimed := false
	c, ok := m.registry.Update(id, func(c *child) {
		if c.State == StateCreated {
			c.State = StateFetching
			claimed = true
		}
	})
	if !ok || !claimed {
		return
	}
	p, ok := m.parent(c.ParentID)
	if !ok {
		m.onError(id, &StreamError{Op: "lookup", ParentID: c.ParentID, ChildID: id, Err: errors.New("parent task missing")})
		return
	}
	stop := context.AfterFunc(ctx, c.handle.Close)
	defer stop()

	m.log.Debug().Str("op", "manager/await").Str("parent", c.ParentID).Str("child", id).Str("target", describeTarget(c.Target)).Msg("part started")
	if err := m.stream(ctx, c, p); err != nil {
		m.onError(id, err)
		return
	}
	m.onCompletion(id)
}

func (m *Manager) stream(ctx context.Context, c child, p *parentTask) error {
	defer c.handle.Close()
	fail := func(op string, err error) error {
		return &StreamError{Op: op, ParentID: c.ParentID, ChildID: c.ID, Err: err}
	}
	if err := p.prepareFile(); err != nil {
		return fail("create", err)
	}
	file, err := os.OpenFile(p.path(), os.O_WRONLY, 0644)
	if err != nil {
		return fail("open", err)
	}
	defer file.Close()
	if part, ok := c.Target.(RangedPart); ok {
		if _, err := file.Seek(part.Range.Start, io.SeekStart); err != nil {
			return fail("seek", err)
		}
	}

	resp, err := c.handle.Wait(ctx)
	if err != nil {
		return fail("fetch", err)
	}
	empty, err := checkResponse(c.Target, resp, p.TotalSize)
	if err != nil {
		return fail("status", err)
	}
	if empty {
		m.log.Debug().Str("op", "manager/stream").Str("child", c.ID).Msg("trailing part past end of resource, nothing to fetch")
		return nil
	}

	buffer := make([]byte, m.chunkSize)
	for {
		n, readErr := readChunk(resp.Body, buffer)
		if n > 0 {
			if _, ok := m.registry.Update(c.ID, func(c *child) { c.Downloaded += int64(n) }); !ok {
				return ErrCancelled
			}
			if _, err := file.Write(buffer[:n]); err != nil {
				return fail("write", err)
			}
			m.onProgress(c.ID)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if c.handle.Closed() {
				if ctx.Err() != nil {
					return fail("read", ctx.Err())
				}
				return ErrCancelled
			}
			return fail("read", readErr)
		}
	}
	if final, ok := m.registry.Get(c.ID); ok && final.PartSize > 0 && final.Downloaded != final.PartSize {
		return fail("verify", fmt.Errorf("size mismatch: expected %d bytes, got %d", final.PartSize, final.Downloaded))
	}
	if err := file.Sync(); err != nil {
		return fail("sync", err)
	}
	return nil
}

// readChunk fills buf unless the body ends first. Unlike io.ReadFull it
// passes a truncated body's io.ErrUnexpectedEOF through untouched.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// checkResponse validates the status of a part's response. empty is true for
// a trailing part that starts past the end of the resource.
func checkResponse(target Target, resp *http.Response, totalSize int64) (empty bool, err error) {
	part, ranged := target.(RangedPart)
	if !ranged {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false, &statusError{Code: resp.StatusCode}
		}
		return false, nil
	}
	r := part.Range
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != r.Start {
			return false, fmt.Errorf("server returned range starting at %d, requested %s", start, r.Header())
		}
		return false, nil
	case http.StatusOK:
		// A server ignoring Range still serves the right bytes for "bytes=0-".
		if r.Start == 0 && r.Open {
			return false, nil
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if r.Degenerate(totalSize) {
			return true, nil
		}
	}
	return false, &statusError{Code: resp.StatusCode, Range: r.Header()}
}

// contentRangeStart parses the first offset of "bytes <start>-<end>/<size>".
func contentRangeStart(value string) (int64, bool) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, false
	}
	startStr, _, ok := strings.Cut(byteRange, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

func describeTarget(t Target) string {
	switch t := t.(type) {
	case RangedPart:
		return t.Range.Header()
	case WholeFile:
		return "whole"
	default:
		return "unknown"
	}
}
