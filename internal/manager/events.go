package manager

import "github.com/rs/zerolog/log"

// PartProgress is one part's share of a parent's progress. Size is 0 when
// the part's length is unknown.
type PartProgress struct {
	Downloaded int64
	Size       int64
}

// Observer receives the aggregated state of every parent task.
//
// Ordering guarantees:
//   - OnFilename and OnTotalSize fire exactly once per parent, from
//     AwaitDownloads, before any part of that parent starts streaming.
//   - OnProgress is called from the goroutine of the part that received data.
//     Calls for one part are strictly ordered; calls for different parts of
//     the same parent may run concurrently and in any order. The slice is
//     ordered by part creation and only lists parts still registered.
//   - Exactly one of OnCompletion or OnError fires per parent, after which no
//     further calls are made for it. OnCompletion fires after the last part
//     has finished; OnError carries the first failure of the group.
//
// Implementations must be safe for concurrent use.
type Observer interface {
	OnFilename(parentID, filename string)
	OnTotalSize(parentID string, totalSize int64)
	OnProgress(parentID string, parts []PartProgress)
	OnCompletion(parentID string)
	OnError(parentID string, err error)
}

// Callbacks adapts optional functions to Observer. Nil fields are skipped.
type Callbacks struct {
	Filename   func(parentID, filename string)
	TotalSize  func(parentID string, totalSize int64)
	Progress   func(parentID string, parts []PartProgress)
	Completion func(parentID string)
	Error      func(parentID string, err error)
}

func (c Callbacks) OnFilename(parentID, filename string) {
	if c.Filename != nil {
		c.Filename(parentID, filename)
	}
}

func (c Callbacks) OnTotalSize(parentID string, totalSize int64) {
	if c.TotalSize != nil {
		c.TotalSize(parentID, totalSize)
	}
}

func (c Callbacks) OnProgress(parentID string, parts []PartProgress) {
	if c.Progress != nil {
		c.Progress(parentID, parts)
	}
}

func (c Callbacks) OnCompletion(parentID string) {
	if c.Completion != nil {
		c.Completion(parentID)
	}
}

func (c Callbacks) OnError(parentID string, err error) {
	if c.Error != nil {
		c.Error(parentID, err)
	}
}

// MultiObserver fans every event out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnFilename(parentID, filename string) {
	for _, o := range m {
		o.OnFilename(parentID, filename)
	}
}

func (m MultiObserver) OnTotalSize(parentID string, totalSize int64) {
	for _, o := range m {
		o.OnTotalSize(parentID, totalSize)
	}
}

func (m MultiObserver) OnProgress(parentID string, parts []PartProgress) {
	for _, o := range m {
		o.OnProgress(parentID, parts)
	}
}

func (m MultiObserver) OnCompletion(parentID string) {
	for _, o := range m {
		o.OnCompletion(parentID)
	}
}

func (m MultiObserver) OnError(parentID string, err error) {
	for _, o := range m {
		o.OnError(parentID, err)
	}
}

// LogObserver writes lifecycle events to the global zerolog logger. Progress
// is logged at trace level only.
type LogObserver struct{}

func (LogObserver) OnFilename(parentID, filename string) {
	log.Info().Str("op", "manager/announce").Str("parent", parentID).Str("filename", filename).Msg("download queued")
}

func (LogObserver) OnTotalSize(parentID string, totalSize int64) {
	log.Debug().Str("op", "manager/announce").Str("parent", parentID).Int64("totalSize", totalSize).Msg("total size")
}

func (LogObserver) OnProgress(parentID string, parts []PartProgress) {
	var downloaded int64
	for _, p := range parts {
		downloaded += p.Downloaded
	}
	log.Trace().Str("op", "manager/progress").Str("parent", parentID).Int("parts", len(parts)).Int64("downloaded", downloaded).Send()
}

func (LogObserver) OnCompletion(parentID string) {
	log.Info().Str("op", "manager/complete").Str("parent", parentID).Msg("download complete")
}

func (LogObserver) OnError(parentID string, err error) {
	log.Error().Str("op", "manager/error").Str("parent", parentID).Err(err).Msg("download failed")
}
