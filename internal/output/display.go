package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/parafetch/internal/manager"
	"github.com/tanq16/parafetch/internal/utils"
)

const (
	statusPending = "pending"
	statusActive  = "active"
	statusSuccess = "success"
	statusError   = "error"
)

type download struct {
	ParentID    string
	Index       int
	Filename    string
	TotalSize   int64
	Downloaded  int64
	Parts       int
	Status      string
	Err         error
	StartTime   time.Time
	LastUpdated time.Time
}

type ErrorReport struct {
	Filename string
	Error    error
	Time     time.Time
}

// Display is a live terminal view of every parent download. It implements
// manager.Observer and redraws itself on a ticker between Start and Stop.
type Display struct {
	out         io.Writer
	mutex       sync.RWMutex
	downloads   map[string]*download
	count       int
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
	size        func() (int, int)
}

func NewDisplay(out io.Writer) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		out:         out,
		downloads:   make(map[string]*download),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
		size:        terminalSize,
	}
}

var _ manager.Observer = (*Display)(nil)

func (d *Display) entry(parentID string) *download {
	info, ok := d.downloads[parentID]
	if !ok {
		d.count++
		now := time.Now()
		info = &download{
			ParentID:    parentID,
			Index:       d.count,
			TotalSize:   -1,
			Status:      statusPending,
			StartTime:   now,
			LastUpdated: now,
		}
		d.downloads[parentID] = info
	}
	return info
}

func (d *Display) OnFilename(parentID, filename string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.entry(parentID).Filename = filename
}

func (d *Display) OnTotalSize(parentID string, totalSize int64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.entry(parentID).TotalSize = totalSize
}

func (d *Display) OnProgress(parentID string, parts []manager.PartProgress) {
	var downloaded int64
	for _, p := range parts {
		downloaded += p.Downloaded
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info := d.entry(parentID)
	if info.Status == statusSuccess || info.Status == statusError {
		return
	}
	if info.Status == statusPending {
		info.Status = statusActive
		info.StartTime = time.Now()
	}
	info.Downloaded = downloaded
	info.Parts = len(parts)
	info.LastUpdated = time.Now()
}

func (d *Display) OnCompletion(parentID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info := d.entry(parentID)
	info.Status = statusSuccess
	if info.TotalSize > 0 {
		info.Downloaded = info.TotalSize
	}
	info.LastUpdated = time.Now()
}

func (d *Display) OnError(parentID string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info := d.entry(parentID)
	info.Status = statusError
	info.Err = err
	info.LastUpdated = time.Now()
	d.errors = append(d.errors, ErrorReport{Filename: info.Filename, Error: err, Time: info.LastUpdated})
}

func (d *Display) sorted() (active, pending, completed []*download) {
	var all []*download
	for _, info := range d.downloads {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, info := range all {
		switch info.Status {
		case statusSuccess, statusError:
			completed = append(completed, info)
		case statusPending:
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}
	return active, pending, completed
}

func statusIndicator(status string) string {
	switch status {
	case statusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case statusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case statusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func progressLine(info *download, now time.Time) string {
	elapsed := now.Sub(info.StartTime).Seconds()
	speed := utils.FormatSpeed(info.Downloaded, elapsed)
	parts := streamStyle.Render(fmt.Sprintf("%d parts", info.Parts))
	if info.Parts == 1 {
		parts = streamStyle.Render("1 part")
	}
	if info.TotalSize <= 0 {
		return fmt.Sprintf("%s %s %s %s %s", debugStyle.Render(utils.FormatBytes(uint64(info.Downloaded))), StyleSymbols["bullet"], debugStyle.Render(speed), StyleSymbols["dot"], parts)
	}
	downloaded := min(info.Downloaded, info.TotalSize)
	sizes := fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(downloaded)), utils.FormatBytes(uint64(info.TotalSize)))
	return fmt.Sprintf("%s%s %s %s %s %s", PrintProgressBar(downloaded, info.TotalSize, 30), debugStyle.Render(sizes), StyleSymbols["bullet"], debugStyle.Render(speed), StyleSymbols["dot"], parts)
}

// frame renders the current state into at most height-3 lines.
func (d *Display) frame(now time.Time) []string {
	width, height := d.size()
	available := max(height-3, 1)
	indent := strings.Repeat(" ", 2)
	active, pending, completed := d.sorted()

	needed := 2*len(active) + len(pending) + len(completed)
	if needed > available {
		keep := max(available-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	var lines []string
	add := func(line string) bool {
		if len(lines) >= available {
			return false
		}
		lines = append(lines, line)
		return true
	}
	for _, info := range active {
		elapsed := now.Sub(info.StartTime).Round(time.Second)
		name := truncate(info.Filename, width-20)
		if !add(fmt.Sprintf("%s%s %s %s", indent, statusIndicator(info.Status), debugStyle.Render(elapsed.String()), pendingStyle.Render(name))) {
			break
		}
		if !add(indent + strings.Repeat(" ", 4) + progressLine(info, now)) {
			break
		}
	}
	for _, info := range pending {
		if !add(fmt.Sprintf("%s%s %s", indent, statusIndicator(info.Status), pendingStyle.Render("Waiting for "+truncate(info.Filename, width-20)))) {
			break
		}
	}
	for _, info := range completed {
		took := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		message := "Downloaded " + info.Filename
		if info.Status == statusSuccess && info.TotalSize > 0 {
			message += " (" + utils.FormatBytes(uint64(info.TotalSize)) + ")"
		}
		style := successStyle
		if info.Status == statusError {
			message = "Failed " + info.Filename
			style = errorStyle
		}
		if !add(fmt.Sprintf("%s%s %s %s", indent, statusIndicator(info.Status), debugStyle.Render(took.String()), style.Render(truncate(message, width-16)))) {
			break
		}
	}
	return lines
}

func (d *Display) updateDisplay() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.numLines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.numLines)
	}
	lines := d.frame(time.Now())
	for _, line := range lines {
		fmt.Fprintln(d.out, line)
	}
	d.numLines = len(lines)
}

func (d *Display) Start() {
	d.displayWg.Add(1)
	go func() {
		defer d.displayWg.Done()
		ticker := time.NewTicker(d.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.updateDisplay()
			case <-d.doneCh:
				d.updateDisplay()
				d.ShowSummary()
				return
			}
		}
	}()
}

// Stop draws the final frame and the summary. Later calls do nothing.
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.doneCh)
		d.displayWg.Wait()
	})
}

func (d *Display) ShowSummary() {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	indent := strings.Repeat(" ", 2)
	var success, failures int
	for _, info := range d.downloads {
		switch info.Status {
		case statusSuccess:
			success++
		case statusError:
			failures++
		}
	}
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(d.downloads))))
	if failures > 0 {
		fmt.Fprintln(d.out, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(d.downloads))))
	}
	if len(d.errors) > 0 {
		fmt.Fprintln(d.out)
		fmt.Fprintln(d.out, indent+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range d.errors {
			fmt.Fprintf(d.out, "%s%s %s %s\n",
				strings.Repeat(" ", 4),
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Filename))
			fmt.Fprintf(d.out, "%s%s\n", strings.Repeat(" ", 6), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(d.out)
}
