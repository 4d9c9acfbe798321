package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/parafetch/internal/config"
	"github.com/tanq16/parafetch/internal/manager"
	"github.com/tanq16/parafetch/internal/output"
	"github.com/tanq16/parafetch/internal/source"
)

// Outcome is what happened to one job. Result is zero when the job failed
// before a download task existed.
type Outcome struct {
	Job    config.Entry
	Result manager.Result
	Err    error
}

type presenter interface {
	manager.Observer
	start()
	stop()
}

type displayPresenter struct{ *output.Display }

func (p displayPresenter) start() { p.Start() }
func (p displayPresenter) stop()  { p.Stop() }

type barsPresenter struct{ *output.Bars }

func (barsPresenter) start() {}
func (barsPresenter) stop()  {}

type quietPresenter struct{ manager.Callbacks }

func (quietPresenter) start() {}
func (quietPresenter) stop()  {}

func newPresenter(mode string, out io.Writer) presenter {
	switch mode {
	case config.ProgressStatus:
		return displayPresenter{output.NewDisplay(out)}
	case config.ProgressBar:
		return barsPresenter{output.NewBars(out)}
	default:
		return quietPresenter{}
	}
}

// Options let callers swap the pieces Run normally builds from the config.
type Options struct {
	Out      io.Writer
	Resolver *source.Resolver
	Manager  []manager.Option
}

// Run queues every job on one download manager, waits for all of them and
// reports each job's outcome. The error is non-nil when any job failed.
func Run(ctx context.Context, cfg config.Config, jobs []config.Entry, opts Options) ([]Outcome, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Resolver == nil {
		opts.Resolver = source.NewResolver(cfg.AWSProfile)
	}
	view := newPresenter(cfg.Progress, opts.Out)
	observer := manager.MultiObserver{view, manager.LogObserver{}}
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i].Job = job
	}

	view.start()
	err := manager.Run(cfg.Manager(), observer, func(m *manager.Manager) error {
		byParent := make(map[string]int)
		for i, job := range jobs {
			parentID, err := queue(ctx, m, opts.Resolver, cfg, job)
			if err != nil {
				log.Error().Str("op", "scheduler/queue").Str("link", job.Link).Err(err).Msg("job not queued")
				outcomes[i].Err = err
				id := fmt.Sprintf("job-%d", i+1)
				view.OnFilename(id, job.Link)
				view.OnError(id, err)
				continue
			}
			byParent[parentID] = i
		}
		if len(byParent) == 0 {
			return nil
		}
		results, err := m.AwaitDownloads(ctx)
		for _, r := range results {
			i := byParent[r.ParentID]
			outcomes[i].Result = r
			outcomes[i].Err = r.Err
		}
		return err
	}, opts.Manager...)
	view.stop()
	if err != nil {
		return outcomes, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return outcomes, fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
	}
	return outcomes, nil
}

func queue(ctx context.Context, m *manager.Manager, resolver *source.Resolver, cfg config.Config, job config.Entry) (string, error) {
	target, err := resolver.Resolve(ctx, job.Link)
	if err != nil {
		return "", err
	}
	dir := job.Dir
	if dir == "" {
		dir = cfg.Dir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}
	opts := target.Options
	if job.Filename != "" {
		opts = append(opts, manager.WithFilename(job.Filename))
	}
	return m.AddDownloadTask(ctx, target.URL, dir, opts...)
}
