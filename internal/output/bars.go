package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tanq16/parafetch/internal/manager"
)

// Bars draws one plain progress bar per download. It suits terminals that do
// not handle the cursor movement of Display.
type Bars struct {
	out   io.Writer
	mu    sync.Mutex
	names map[string]string
	sizes map[string]int64
	bars  map[string]*progressbar.ProgressBar
	done  map[string]error
}

func NewBars(out io.Writer) *Bars {
	if out == nil {
		out = os.Stderr
	}
	return &Bars{
		out:   out,
		names: make(map[string]string),
		sizes: make(map[string]int64),
		bars:  make(map[string]*progressbar.ProgressBar),
		done:  make(map[string]error),
	}
}

var _ manager.Observer = (*Bars)(nil)

func (b *Bars) OnFilename(parentID, filename string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[parentID] = filename
}

// OnTotalSize creates the bar. An unknown size gives a spinner.
func (b *Bars) OnTotalSize(parentID string, totalSize int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if totalSize <= 0 {
		totalSize = -1
	}
	b.sizes[parentID] = totalSize
	b.bars[parentID] = progressbar.NewOptions64(totalSize,
		progressbar.OptionSetWriter(b.out),
		progressbar.OptionSetDescription(b.names[parentID]),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(b.out)
		}),
	)
}

func (b *Bars) OnProgress(parentID string, parts []manager.PartProgress) {
	var downloaded int64
	for _, p := range parts {
		downloaded += p.Downloaded
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.bars[parentID]
	if !ok {
		return
	}
	if _, finished := b.done[parentID]; finished {
		return
	}
	if total := b.sizes[parentID]; total > 0 && downloaded > total {
		downloaded = total
	}
	_ = bar.Set64(downloaded)
}

func (b *Bars) OnCompletion(parentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done[parentID] = nil
	if bar, ok := b.bars[parentID]; ok {
		_ = bar.Finish()
	}
}

func (b *Bars) OnError(parentID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done[parentID] = err
	fmt.Fprintf(b.out, "\n%s %s\n", FError(StyleSymbols["fail"]+" "+b.names[parentID]), FDebug(err.Error()))
}

// Failed returns how many downloads reported an error.
func (b *Bars) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, err := range b.done {
		if err != nil {
			n++
		}
	}
	return n
}
