// Package callfeed composes the call cache, the paginated fetcher and the
// store subscription behind one per-tenant object.
//
// A Feed is built for one (tenant, mode) pair. Paged feeds read the newest
// page and grow with LoadMore; live feeds receive every matching record on
// each upstream change. Every fetch runs under its own cancellable context
// and carries a generation number; only the newest generation may change
// the feed's state, so a slow response never overwrites a newer one.
package callfeed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"voiceai-dashboard/internal/callcache"
	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/internal/callstore"
	"voiceai-dashboard/internal/pager"
	"voiceai-dashboard/pkg/logger"
	"voiceai-dashboard/pkg/metrics"

	"golang.org/x/sync/singleflight"
)

type Mode int

const (
	ModePaged Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "paged"
}

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

var (
	ErrLiveMode   = errors.New("callfeed: load more is not available in live mode")
	ErrClosed     = errors.New("callfeed: feed closed")
	ErrSuperseded = errors.New("callfeed: fetch superseded by a newer one")
	// ErrCursorMoved is returned by LoadMoreAfter when the cursor is not
	// where the feed's records end.
	ErrCursorMoved = errors.New("callfeed: cursor is not the end of the loaded records")
)

// PageFetcher is satisfied by *pager.Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, tenantID, cursor string, pageSize int) (pager.Page, error)
	FetchAll(ctx context.Context, tenantID string, pageSize, limit int) (pager.Page, error)
}

type Options struct {
	TenantID string
	Mode     Mode
	PageSize int
	// MaxRecords caps how many records the feed will hold; 0 means 500.
	MaxRecords int
	Disabled   bool
	SkipCache  bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	out.PageSize = pager.ClampPageSize(out.PageSize)
	if out.MaxRecords <= 0 {
		out.MaxRecords = 500
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	out.Logger = logger.OrDefault(out.Logger).With("tenant_id", out.TenantID, "mode", out.Mode.String())
	return out
}

// Snapshot is a copy of the feed's consumer-facing state.
type Snapshot struct {
	Records     []calls.Record `json:"records"`
	State       State          `json:"state"`
	Err         error          `json:"-"`
	Error       string         `json:"error,omitempty"`
	HasMore     bool           `json:"has_more"`
	NextCursor  string         `json:"next_cursor,omitempty"`
	Ready       bool           `json:"ready"`
	TotalLoaded int            `json:"total_loaded"`
}

type Feed struct {
	opts    Options
	fetcher PageFetcher
	store   callstore.Store
	cache   callcache.Cache
	log     *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	refreshes singleflight.Group

	mu          sync.Mutex
	started     bool
	closed      bool
	state       State
	records     []calls.Record
	err         error
	hasMore     bool
	cursor      string
	generation  uint64
	cancelFetch context.CancelFunc
	changes     chan struct{}
}

// New builds an idle feed. Nothing is fetched until Start.
func New(fetcher PageFetcher, store callstore.Store, cache callcache.Cache, opts Options) *Feed {
	opts = opts.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Feed{
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		log:     opts.Logger,
		ctx:     ctx,
		stop:    stop,
		state:   StateIdle,
		changes: make(chan struct{}),
	}
}

func (f *Feed) inactive() bool {
	return f.opts.TenantID == "" || f.opts.Disabled
}

// Start begins loading. The feed is closed when ctx ends.
// A feed without a tenant, or a disabled one, stays idle and reports ready.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.mu.Unlock()

	context.AfterFunc(ctx, f.Close)

	if f.inactive() {
		f.mu.Lock()
		f.notifyLocked()
		f.mu.Unlock()
		return nil
	}

	if f.opts.Mode == ModeLive {
		f.startLive()
		return nil
	}

	if !f.opts.SkipCache && f.serveFromCache() {
		return nil
	}
	f.startFetch(true)
	return nil
}

// serveFromCache applies a cached entry, refreshing in the background when
// it is stale. It reports whether the cache could serve the feed.
func (f *Feed) serveFromCache() bool {
	entry, ok, err := f.cache.Get(f.ctx, f.opts.TenantID)
	if err != nil {
		f.log.Warn("calls cache read failed", "err", err)
		return false
	}
	if !ok {
		return false
	}
	stale, err := f.cache.IsStale(f.ctx, f.opts.TenantID)
	if err != nil {
		stale = true
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return true
	}
	if len(entry.Records) > f.opts.MaxRecords {
		// The cursor belongs to the last cached record; past the cap it
		// cannot be resumed from.
		entry = callcache.Entry{Records: entry.Records[:f.opts.MaxRecords]}
	}
	f.records = entry.Records
	f.cursor = entry.NextCursor
	f.hasMore = f.cursor != "" && len(f.records) < f.opts.MaxRecords
	f.state = StateReady
	f.err = nil
	f.notifyLocked()
	f.mu.Unlock()

	if stale {
		f.goTracked(f.refresh)
	}
	return true
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		Records:     slices.Clone(f.records),
		State:       f.state,
		Err:         f.err,
		HasMore:     f.hasMore,
		NextCursor:  f.cursor,
		TotalLoaded: len(f.records),
	}
	if s.Records == nil {
		s.Records = []calls.Record{}
	}
	s.Ready = f.state == StateReady || (f.state == StateIdle && f.started && f.inactive())
	if f.err != nil {
		s.Error = f.err.Error()
	}
	return s
}

// Changes returns a channel closed at the next state change. Take the
// channel before reading Snapshot so no change is missed.
func (f *Feed) Changes() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes
}

// Done is closed once the feed is closed.
func (f *Feed) Done() <-chan struct{} {
	return f.ctx.Done()
}

// WaitReady blocks until the feed is ready or failed.
func (f *Feed) WaitReady(ctx context.Context) (Snapshot, error) {
	for {
		ch := f.Changes()
		s := f.Snapshot()
		if s.Ready || s.State == StateError {
			return s, s.Err
		}
		select {
		case <-ch:
		case <-f.Done():
			return f.Snapshot(), ErrClosed
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Refetch drops the cached entry, cancels any fetch in flight and loads
// again from the store. It waits for the new load or ctx.
func (f *Feed) Refetch(ctx context.Context) error {
	if f.isClosed() {
		return ErrClosed
	}
	if f.inactive() {
		return nil
	}
	if err := f.cache.Invalidate(ctx, f.opts.TenantID); err != nil {
		f.log.Warn("calls cache invalidate failed", "err", err)
	}

	var done <-chan struct{}
	if f.opts.Mode == ModeLive {
		done = f.startLive()
	} else {
		done = f.startFetch(true)
	}
	if done == nil {
		return ErrClosed
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s := f.Snapshot(); s.State == StateError {
		return s.Err
	}
	return nil
}

// LoadMore appends the next page. It is a no-op unless the feed is ready
// and more records remain. A page with no records ends pagination.
func (f *Feed) LoadMore(ctx context.Context) error {
	_, err := f.loadMore(ctx, "", false)
	return err
}

// LoadMoreAfter appends the page following cursor and returns that page.
// cursor must be where the feed's records end, otherwise ErrCursorMoved is
// returned and nothing is fetched.
func (f *Feed) LoadMoreAfter(ctx context.Context, cursor string) (pager.Page, error) {
	return f.loadMore(ctx, cursor, true)
}

func (f *Feed) loadMore(ctx context.Context, want string, matchCursor bool) (pager.Page, error) {
	if f.opts.Mode == ModeLive {
		return pager.Page{}, ErrLiveMode
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return pager.Page{}, ErrClosed
	}
	if matchCursor && (f.state != StateReady || !f.hasMore || f.cursor != want) {
		f.mu.Unlock()
		return pager.Page{}, ErrCursorMoved
	}
	if f.state != StateReady || !f.hasMore {
		f.mu.Unlock()
		return pager.Page{Records: []calls.Record{}}, nil
	}
	gen, fetchCtx := f.beginLocked(true)
	cursor := f.cursor
	size := min(f.opts.PageSize, f.opts.MaxRecords-len(f.records))
	f.mu.Unlock()

	stopOnCaller := context.AfterFunc(ctx, f.cancelGeneration(gen))
	defer stopOnCaller()

	fetchedAt := f.opts.Clock()
	page, err := f.fetcher.FetchPage(fetchCtx, f.opts.TenantID, cursor, size)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return pager.Page{}, ErrClosed
	}
	if gen != f.generation {
		f.mu.Unlock()
		f.opts.Metrics.FeedFetch("superseded")
		return pager.Page{}, ErrSuperseded
	}
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; what was loaded before stays valid.
			f.state = StateReady
			f.notifyLocked()
			f.mu.Unlock()
			return pager.Page{}, ctx.Err()
		}
		f.failLocked(err)
		f.mu.Unlock()
		return pager.Page{}, err
	}

	merged := make([]calls.Record, 0, len(f.records)+len(page.Records))
	merged = append(merged, f.records...)
	merged = append(merged, page.Records...)
	f.records = merged
	f.hasMore = page.HasMore && len(page.Records) > 0 && len(f.records) < f.opts.MaxRecords
	f.cursor = page.NextCursor
	f.state = StateReady
	f.err = nil
	f.notifyLocked()
	entry := f.entryLocked()
	f.mu.Unlock()

	f.opts.Metrics.FeedFetch("applied")
	f.writeCache(entry, fetchedAt)
	return page, nil
}

// Poll refreshes the first page every interval until ctx ends or the feed
// closes. Overlapping refreshes are collapsed into one.
func (f *Feed) Poll(ctx context.Context, interval time.Duration) error {
	if f.opts.Mode == ModeLive {
		return ErrLiveMode
	}
	if interval <= 0 {
		return errors.New("callfeed: poll interval must be positive")
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.Done():
			return nil
		case <-t.C:
			f.mu.Lock()
			busy := f.state == StateLoading || f.state == StateIdle
			f.mu.Unlock()
			if !busy {
				f.refresh()
			}
		}
	}
}

// Close cancels all work and waits for background goroutines. No state
// changes are applied afterwards.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.cancelFetch != nil {
		f.cancelFetch()
	}
	f.stop()
	close(f.changes)
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// refresh reloads the first page without entering the loading state.
func (f *Feed) refresh() {
	_, _, _ = f.refreshes.Do("refresh", func() (any, error) {
		if done := f.startFetch(false); done != nil {
			<-done
		}
		return nil, nil
	})
}

// startFetch loads the first page under a new generation. It returns a
// channel closed when the fetch finished, or nil if the feed is closed.
func (f *Feed) startFetch(showLoading bool) <-chan struct{} {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	gen, fetchCtx := f.beginLocked(showLoading)
	done := make(chan struct{})
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer close(done)

		fetchedAt := f.opts.Clock()
		page, err := f.fetcher.FetchPage(fetchCtx, f.opts.TenantID, "", min(f.opts.PageSize, f.opts.MaxRecords))

		f.mu.Lock()
		if f.closed || gen != f.generation {
			f.mu.Unlock()
			f.opts.Metrics.FeedFetch("superseded")
			return
		}
		if err != nil {
			f.failLocked(err)
			f.mu.Unlock()
			return
		}
		f.records = page.Records
		f.hasMore = page.HasMore && len(f.records) < f.opts.MaxRecords
		f.cursor = page.NextCursor
		f.state = StateReady
		f.err = nil
		f.notifyLocked()
		entry := f.entryLocked()
		f.mu.Unlock()

		f.opts.Metrics.FeedFetch("applied")
		f.writeCache(entry, fetchedAt)
	}()
	return done
}

// startLive (re)subscribes to the store. The returned channel is closed
// once the first snapshot has been applied or the subscription failed.
func (f *Feed) startLive() <-chan struct{} {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	gen, watchCtx := f.beginLocked(true)
	first := make(chan struct{})
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		var once sync.Once
		signal := func() { once.Do(func() { close(first) }) }
		defer signal()

		ch, err := f.store.Watch(watchCtx, callstore.Query{TenantID: f.opts.TenantID, Limit: f.opts.MaxRecords})
		if err != nil {
			f.applyLive(gen, nil, err, time.Time{})
			return
		}
		for snap := range ch {
			now := f.opts.Clock()
			records := make([]calls.Record, 0, len(snap.Documents))
			for _, d := range snap.Documents {
				records = append(records, calls.MapDocument(d, now))
			}
			f.applyLive(gen, records, snap.Err, now)
			signal()
		}
	}()
	return first
}

func (f *Feed) applyLive(gen uint64, records []calls.Record, err error, fetchedAt time.Time) {
	f.mu.Lock()
	if f.closed || gen != f.generation {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.failLocked(err)
		f.mu.Unlock()
		return
	}
	f.records = records
	f.hasMore = false
	f.cursor = ""
	f.state = StateReady
	f.err = nil
	f.notifyLocked()
	entry := f.entryLocked()
	f.mu.Unlock()

	f.opts.Metrics.FeedFetch("applied")
	f.writeCache(entry, fetchedAt)
}

// beginLocked cancels the fetch in flight and opens a new generation.
func (f *Feed) beginLocked(showLoading bool) (uint64, context.Context) {
	if f.cancelFetch != nil {
		f.cancelFetch()
	}
	f.generation++
	ctx, cancel := context.WithCancel(f.ctx)
	f.cancelFetch = cancel
	if showLoading {
		f.state = StateLoading
		f.err = nil
		f.notifyLocked()
	}
	return f.generation, ctx
}

// cancelGeneration returns a func cancelling gen's fetch if it is still current.
func (f *Feed) cancelGeneration(gen uint64) func() {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if gen == f.generation && f.cancelFetch != nil {
			f.cancelFetch()
		}
	}
}

func (f *Feed) failLocked(err error) {
	f.state = StateError
	f.err = err
	f.notifyLocked()
	f.opts.Metrics.FeedFetch("error")
	f.log.Error("calls fetch failed", "err", err)
}

func (f *Feed) notifyLocked() {
	if f.closed {
		return
	}
	close(f.changes)
	f.changes = make(chan struct{})
}

// entryLocked copies the loaded records and where they end.
func (f *Feed) entryLocked() callcache.Entry {
	return callcache.Entry{Records: slices.Clone(f.records), NextCursor: f.cursor}
}

func (f *Feed) writeCache(e callcache.Entry, fetchedAt time.Time) {
	if f.opts.SkipCache {
		return
	}
	if _, err := f.cache.SetAt(f.ctx, f.opts.TenantID, e, fetchedAt); err != nil && f.ctx.Err() == nil {
		f.log.Warn("calls cache write failed", "err", err)
	}
}

// goTracked runs fn in a goroutine that Close waits for.
func (f *Feed) goTracked(fn func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()
	go func() {
		defer f.wg.Done()
		fn()
	}()
}

