package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/parafetch/internal/filename"
	"github.com/tanq16/parafetch/internal/planner"
	"github.com/tanq16/parafetch/internal/registry"
	"github.com/tanq16/parafetch/internal/utils"
)

const (
	DefaultConnections = 8
	DefaultChunkSize   = 64 * 1024
	MaxChunkSize       = 16 << 20
)

// Client is the HTTP client a manager shares across all of its tasks.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
	Close() error
}

// Resolver derives a filename from a URL and the probe's response headers.
type Resolver func(rawURL string, header http.Header) (string, error)

type Config struct {
	Connections     int
	FollowRedirects bool
	ChunkSize       int
	HTTP            utils.HTTPClientConfig
}

type Option func(*Manager)

// WithClient replaces the HTTP client built from Config.HTTP. The manager
// takes ownership and closes it on Close.
func WithClient(c Client) Option {
	return func(m *Manager) {
		m.client = c
	}
}

func WithResolver(r Resolver) Option {
	return func(m *Manager) {
		m.resolve = r
	}
}

// Metadata is what a probe learns about a resource. ContentLength is -1 when
// unknown.
type Metadata struct {
	URL           string
	ContentLength int64
	ContentType   string
	AcceptRanges  string
	Header        http.Header
}

type taskOptions struct {
	filename string
	metadata *Metadata
}

type TaskOption func(*taskOptions)

// WithFilename overrides filename resolution.
func WithFilename(name string) TaskOption {
	return func(o *taskOptions) {
		o.filename = name
	}
}

// WithMetadata supplies already known metadata and skips the HEAD probe.
func WithMetadata(meta Metadata) TaskOption {
	return func(o *taskOptions) {
		o.metadata = &meta
	}
}

// Manager splits downloads into concurrent parts, tracks them in a shared
// registry and reports aggregated state to an Observer.
type Manager struct {
	connections int
	chunkSize   int
	client      Client
	resolve     Resolver
	observer    Observer
	registry    *registry.Registry[child]
	log         zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	parents map[string]*parentTask

	// held shared while OnProgress is delivered and exclusively while a
	// group leaves the registry
	events sync.RWMutex

	closeOnce sync.Once
	closed    bool
}

func New(cfg Config, observer Observer, opts ...Option) (*Manager, error) {
	if cfg.ChunkSize < 0 || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if observer == nil {
		observer = Callbacks{}
	}
	connections := planner.ClampConnections(cfg.Connections)
	m := &Manager{
		connections: connections,
		chunkSize:   cfg.ChunkSize,
		resolve:     filename.Resolve,
		observer:    observer,
		registry:    registry.New[child](),
		log:         utils.GetLogger("manager"),
		parents:     make(map[string]*parentTask),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		httpCfg := cfg.HTTP
		httpCfg.FollowRedirects = cfg.FollowRedirects
		httpCfg.HighThreadMode = connections > 5
		m.client = utils.NewFetchClient(httpCfg)
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Run acquires a manager, hands it to fn and releases it on every exit path.
func Run(cfg Config, observer Observer, fn func(*Manager) error, opts ...Option) error {
	m, err := New(cfg, observer, opts...)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func (m *Manager) Connections() int {
	return m.connections
}

// AddDownloadTask probes url, resolves a filename, plans the parts and starts
// one GET per part. The parts stream only once AwaitDownloads is called.
func (m *Manager) AddDownloadTask(ctx context.Context, rawURL, dir string, opts ...TaskOption) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	var meta Metadata
	if o.metadata != nil {
		meta = *o.metadata
		if meta.URL == "" {
			meta.URL = rawURL
		}
		if meta.Header == nil {
			meta.Header = http.Header{}
		}
	} else {
		meta = m.probe(ctx, rawURL)
	}

	name := o.filename
	if name == "" {
		resolved, err := m.resolve(meta.URL, meta.Header)
		if err == nil && strings.Trim(resolved, ".") == "" {
			err = filename.ErrUnresolvable
		}
		if err != nil {
			return "", &FilenameResolutionError{URL: rawURL, Err: err}
		}
		name = resolved
	}
	if dir == "" {
		dir = "."
	}

	planSize := meta.ContentLength
	if strings.EqualFold(strings.TrimSpace(meta.AcceptRanges), "none") {
		planSize = -1
	}
	ranges := planner.Plan(planSize, m.connections)

	p := &parentTask{
		ID:        newID(),
		URL:       meta.URL,
		Filename:  name,
		Dir:       dir,
		TotalSize: meta.ContentLength,
	}
	var children []child
	if len(ranges) == 0 {
		children = append(children, child{
			ID:       newID(),
			ParentID: p.ID,
			URL:      meta.URL,
			Target:   WholeFile{},
			PartSize: max(meta.ContentLength, 0),
		})
	} else {
		for _, r := range ranges {
			children = append(children, child{
				ID:       newID(),
				ParentID: p.ID,
				URL:      meta.URL,
				Target:   RangedPart{Range: r},
				PartSize: r.Size(meta.ContentLength),
			})
		}
	}
	for i := range children {
		req, err := newPartRequest(m.baseCtx, children[i])
		if err != nil {
			for _, started := range children[:i] {
				started.handle.Close()
			}
			return "", fmt.Errorf("error creating GET request: %w", err)
		}
		children[i].handle = startFetch(m.baseCtx, m.client, req)
		p.ChildIDs = append(p.ChildIDs, children[i].ID)
	}

	m.mu.Lock()
	m.parents[p.ID] = p
	m.mu.Unlock()
	for _, c := range children {
		if err := m.registry.Insert(c.ID, c.ParentID, c); err != nil {
			m.registry.RemoveGroup(p.ID)
			for _, started := range children {
				started.handle.Close()
			}
			m.mu.Lock()
			delete(m.parents, p.ID)
			m.mu.Unlock()
			return "", err
		}
	}
	m.log.Info().Str("op", "manager/add").Str("parent", p.ID).Str("filename", name).Int("parts", len(children)).Int64("totalSize", p.TotalSize).Msgf("task added for %s", rawURL)
	return p.ID, nil
}

// AwaitDownloads runs every queued part concurrently and blocks until each
// one is completed or errored. Cancelling ctx stops the awaited parts; each
// affected parent then reports the context error through OnError.
func (m *Manager) AwaitDownloads(ctx context.Context) ([]Result, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	var queued []string
	var parentOrder []string
	seen := make(map[string]bool)
	for _, id := range m.registry.IDs() {
		c, ok := m.registry.Get(id)
		if !ok || c.State != StateCreated {
			continue
		}
		queued = append(queued, id)
		if !seen[c.ParentID] {
			seen[c.ParentID] = true
			parentOrder = append(parentOrder, c.ParentID)
		}
	}
	for _, pid := range parentOrder {
		m.announce(pid)
	}

	var g errgroup.Group
	for _, id := range queued {
		g.Go(func() error {
			m.awaitDownload(ctx, id)
			return nil
		})
	}
	g.Wait()

	results := make([]Result, 0, len(parentOrder))
	m.mu.Lock()
	for _, pid := range parentOrder {
		p, ok := m.parents[pid]
		if !ok || p.result == nil {
			continue
		}
		results = append(results, *p.result)
		delete(m.parents, pid)
	}
	m.mu.Unlock()
	return results, ctx.Err()
}

func (m *Manager) announce(parentID string) {
	m.mu.Lock()
	p, ok := m.parents[parentID]
	if !ok || p.announced {
		m.mu.Unlock()
		return
	}
	p.announced = true
	name, total := p.Filename, p.TotalSize
	m.mu.Unlock()
	m.observer.OnFilename(parentID, name)
	m.observer.OnTotalSize(parentID, total)
}

func (m *Manager) onProgress(id string) {
	m.events.RLock()
	defer m.events.RUnlock()
	parentID, siblings, ok := m.registry.SiblingsOf(id)
	if !ok {
		return
	}
	parts := make([]PartProgress, len(siblings))
	for i, s := range siblings {
		parts[i] = s.progress()
	}
	m.observer.OnProgress(parentID, parts)
}

func (m *Manager) onCompletion(id string) {
	m.events.Lock()
	parentID, group, ok := m.registry.Finish(id,
		func(c *child) { c.State = StateCompleted },
		func(c child) bool { return c.State == StateCompleted },
	)
	m.events.Unlock()
	if !ok {
		return
	}
	m.log.Debug().Str("op", "manager/complete").Str("parent", parentID).Str("child", id).Msg("part completed")
	if group == nil {
		return
	}
	m.settle(parentID, len(group), nil)
	m.observer.OnCompletion(parentID)
}

// onError tears the whole group down. Only the first failing part of a
// group gets past Detach; every later call is a no-op.
func (m *Manager) onError(id string, err error) {
	m.events.Lock()
	parentID, self, siblings, ok := m.registry.Detach(id)
	m.events.Unlock()
	if !ok {
		return
	}
	self.handle.Close()
	m.log.Debug().Str("op", "manager/error").Str("parent", parentID).Str("child", id).Err(err).Msg("part failed")
	for _, s := range siblings {
		s.handle.Close()
		if s.State != StateCompleted {
			m.log.Debug().Str("op", "manager/error").Str("parent", parentID).Str("child", s.ID).Bool("forced", true).Str("from", s.State.String()).Msg("part cancelled")
		}
	}
	m.settle(parentID, len(siblings)+1, err)
	m.observer.OnError(parentID, err)
}

func (m *Manager) settle(parentID string, parts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parents[parentID]
	if !ok {
		return
	}
	p.result = &Result{
		ParentID:  p.ID,
		URL:       p.URL,
		Filename:  p.Filename,
		Path:      p.path(),
		TotalSize: p.TotalSize,
		Parts:     parts,
		Err:       err,
	}
}

func (m *Manager) parent(id string) (*parentTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parents[id]
	return p, ok
}

// Pending returns the number of parts still registered.
func (m *Manager) Pending() int {
	return m.registry.Len()
}

// PendingFor returns the number of parts still registered for parentID.
func (m *Manager) PendingFor(parentID string) int {
	return m.registry.CountParent(parentID)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close cancels every outstanding request and releases the shared client.
// Only the first call does anything.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cancel()
		for _, id := range m.registry.IDs() {
			if c, ok := m.registry.Get(id); ok {
				c.handle.Close()
			}
		}
		err = m.client.Close()
		if errors.Is(err, utils.ErrClientClosed) {
			err = nil
		}
		m.log.Debug().Str("op", "manager/close").Msg("manager closed")
	})
	return err
}

func (m *Manager) probe(ctx context.Context, rawURL string) Metadata {
	meta := Metadata{URL: rawURL, ContentLength: -1, Header: http.Header{}}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		m.logProbeFailure(&ProbeError{URL: rawURL, Err: err})
		return meta
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logProbeFailure(&ProbeError{URL: rawURL, Err: err})
		return meta
	}
	resp.Body.Close()
	if resp.Request != nil && resp.Request.URL != nil {
		meta.URL = resp.Request.URL.String()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logProbeFailure(&ProbeError{URL: rawURL, Err: &statusError{Code: resp.StatusCode}})
		return meta
	}
	meta.Header = resp.Header
	meta.ContentType = resp.Header.Get("Content-Type")
	meta.AcceptRanges = resp.Header.Get("Accept-Ranges")
	if resp.ContentLength >= 0 {
		meta.ContentLength = resp.ContentLength
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size >= 0 {
			meta.ContentLength = size
		}
	}
	return meta
}

func (m *Manager) logProbeFailure(err *ProbeError) {
	m.log.Warn().Str("op", "manager/probe").Err(err).Msg("metadata probe failed, falling back to a single connection")
}

func newPartRequest(ctx context.Context, c child) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	if part, ok := c.Target.(RangedPart); ok {
		req.Header.Set("Range", part.Range.Header())
	}
	req.Header.Set("Connection", "keep-alive")
	return req, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
