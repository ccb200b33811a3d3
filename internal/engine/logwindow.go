package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Column names the log window prunes on.
const (
	timeColumn  = "time"
	classColumn = "class"
)

// DefaultSegmentEntries is the live segment size before rotation.
const DefaultSegmentEntries = 10000

var ErrNoArchiveReader = errors.New("no archive reader configured")

// ArchiveReader gives the window access to rotated log files.
// *storage.Reader implements it.
type ArchiveReader interface {
	// Span returns the time range covered by the archive at path.
	Span(path string) (minTs, maxTs int64, err error)
	// List returns the archives in dir, oldest first.
	List(dir string) ([]string, error)
	ReadLines(path string, visit func(line string) error) error
}

// FlushFunc writes raw log lines to an archive and returns its path.
type FlushFunc func(lines []string) (string, error)

// segment is a run of entries ordered by time.
type segment struct {
	entries []*LogEntry
}

func (s *segment) minTime() int64 { return s.entries[0].Time }
func (s *segment) maxTime() int64 { return s.entries[len(s.entries)-1].Time }

// insert appends e, moving it back until the segment is ordered again.
func (s *segment) insert(e *LogEntry) {
	s.entries = append(s.entries, e)
	i := len(s.entries) - 1
	for i > 0 && s.entries[i-1].Time > e.Time {
		s.entries[i] = s.entries[i-1]
		i--
	}
	s.entries[i] = e
}

// archive is a rotated log file whose entries are parsed on first use.
type archive struct {
	path         string
	minTs, maxTs int64

	mu      sync.Mutex
	loaded  bool
	entries []*LogEntry
	err     error
}

func (a *archive) load(r ArchiveReader, res Resolver) ([]*LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.entries, a.err
	}

	var entries []*LogEntry
	lineno := 0
	err := r.ReadLines(a.path, func(line string) error {
		lineno++
		entries = append(entries, NewLogEntry(lineno, line, res))
		return nil
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time < entries[j].Time
	})
	a.entries, a.err, a.loaded = entries, err, true
	return entries, err
}

func (a *archive) isLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

// WindowOption configures a LogWindow.
type WindowOption func(*LogWindow)

// WithSegmentEntries sets the number of entries per in-memory segment.
func WithSegmentEntries(n int) WindowOption {
	return func(w *LogWindow) {
		if n > 0 {
			w.maxSegmentEntries = n
		}
	}
}

// WithRetention sets how long entries are kept. Zero keeps everything.
func WithRetention(d time.Duration) WindowOption {
	return func(w *LogWindow) { w.retention = d }
}

func WithArchiveReader(r ArchiveReader) WindowOption {
	return func(w *LogWindow) { w.reader = r }
}

// WithFlush makes Flush write sealed segments through fn.
func WithFlush(fn FlushFunc) WindowOption {
	return func(w *LogWindow) { w.flush = fn }
}

// WithPreload makes LoadArchives parse every archive immediately.
func WithPreload(preload bool) WindowOption {
	return func(w *LogWindow) { w.preload = preload }
}

func WithWindowLogger(log *zap.Logger) WindowOption {
	return func(w *LogWindow) {
		if log != nil {
			w.log = log
		}
	}
}

// WithWindowClock replaces time.Now for retention decisions.
func WithWindowClock(now func() time.Time) WindowOption {
	return func(w *LogWindow) { w.now = now }
}

// LogWindow is the time-ordered store behind the log table. Recent lines
// live in memory segments; older ones stay in archive files that are
// parsed when a scan first needs them.
type LogWindow struct {
	mu sync.RWMutex

	log      *zap.Logger
	resolver Resolver
	reader   ArchiveReader
	flush    FlushFunc
	now      func() time.Time

	maxSegmentEntries int
	retention         time.Duration
	preload           bool

	flushMu sync.Mutex // one Flush at a time

	archives []*archive // ordered by minTs
	sealed   []*segment
	live     *segment
	lineno   int

	pruned       atomic.Int64
	writeCounter atomic.Int64
	currentRate  atomic.Uint64 // float64 bits
}

// NewLogWindow creates an empty window. Names in appended lines are
// resolved through r, which may be nil.
func NewLogWindow(r Resolver, opts ...WindowOption) *LogWindow {
	w := &LogWindow{
		log:               zap.NewNop(),
		resolver:          r,
		now:               time.Now,
		maxSegmentEntries: DefaultSegmentEntries,
		live:              &segment{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append parses line and adds it to the live segment, rotating the
// segment when it is full.
func (w *LogWindow) Append(line string) *LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lineno++
	e := NewLogEntry(w.lineno, line, w.resolver)
	if len(w.live.entries) >= w.maxSegmentEntries {
		w.sealed = append(w.sealed, w.live)
		w.live = &segment{entries: make([]*LogEntry, 0, w.maxSegmentEntries)}
	}
	w.live.insert(e)
	w.writeCounter.Add(1)
	return e
}

// AddArchive registers the archive at path. Its entries are read on the
// first scan that cannot prune it.
func (w *LogWindow) AddArchive(path string) error {
	if w.reader == nil {
		return ErrNoArchiveReader
	}
	minTs, maxTs, err := w.reader.Span(path)
	if err != nil {
		return fmt.Errorf("add archive %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertArchive(&archive{path: path, minTs: minTs, maxTs: maxTs})
	return nil
}

// insertArchive keeps w.archives ordered by minTs. A path that is already
// registered is left as is. w.mu must be held for writing.
func (w *LogWindow) insertArchive(a *archive) {
	for _, have := range w.archives {
		if have.path == a.path {
			return
		}
	}
	i := sort.Search(len(w.archives), func(i int) bool {
		return w.archives[i].minTs > a.minTs
	})
	w.archives = append(w.archives, nil)
	copy(w.archives[i+1:], w.archives[i:])
	w.archives[i] = a
}

// LoadArchives registers every archive in dir. With preloading enabled
// the archives are parsed in parallel before returning.
func (w *LogWindow) LoadArchives(ctx context.Context, dir string) error {
	if w.reader == nil {
		return ErrNoArchiveReader
	}
	paths, err := w.reader.List(dir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	for _, path := range paths {
		if err := w.AddArchive(path); err != nil {
			w.log.Warn("skipping archive", zap.String("path", path), zap.Error(err))
		}
	}
	w.log.Info("archives registered", zap.String("dir", dir), zap.Int("count", len(paths)))
	if !w.preload {
		return nil
	}

	w.mu.RLock()
	archives := append([]*archive(nil), w.archives...)
	w.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, a := range archives {
		a := a
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := a.load(w.reader, w.resolver); err != nil {
				w.log.Warn("archive load failed", zap.String("path", a.path), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Scan visits entries newest first. Segments and archives entirely
// outside the filter's bounds on time are skipped, as are entries whose
// class the filter rules out. The filter itself is not applied.
func (w *LogWindow) Scan(ctx context.Context, f Filter, tz time.Duration, visit func(Row) bool) error {
	var (
		lower, upper       int64
		hasLower, hasUpper bool
		classes            = AllValues
	)
	if f != nil {
		lower, hasLower = f.GreatestLowerBoundFor(timeColumn, tz).Get()
		upper, hasUpper = f.LeastUpperBoundFor(timeColumn, tz).Get()
		if set, ok := f.ValueSetLeastUpperBoundFor(classColumn, tz).Get(); ok {
			classes = set
		}
	}
	if classes == 0 || (hasLower && hasUpper && lower > upper) {
		return nil
	}
	outside := func(minTs, maxTs int64) bool {
		return (hasLower && maxTs < lower) || (hasUpper && minTs > upper)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	// visitRun walks one ordered run backwards; false means stop the scan.
	visitRun := func(entries []*LogEntry) (bool, error) {
		i := len(entries) - 1
		if hasUpper {
			i = sort.Search(len(entries), func(i int) bool {
				return entries[i].Time > upper
			}) - 1
		}
		for ; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			e := entries[i]
			if hasLower && e.Time < lower {
				break
			}
			if !classes.Contains(int64(e.Class)) {
				continue
			}
			if !visit(e) {
				return false, nil
			}
		}
		return true, nil
	}

	// Archives and segments are visited by their newest entry; a segment
	// that failed to flush can be older than archives written after it.
	type run struct {
		minTs, maxTs int64
		seg          *segment
		arc          *archive
	}
	runs := make([]run, 0, len(w.archives)+len(w.sealed)+1)
	for _, a := range w.archives {
		runs = append(runs, run{minTs: a.minTs, maxTs: a.maxTs, arc: a})
	}
	for _, s := range append(slices.Clip(w.sealed), w.live) {
		if len(s.entries) > 0 {
			runs = append(runs, run{minTs: s.minTime(), maxTs: s.maxTime(), seg: s})
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].maxTs < runs[j].maxTs })

	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if outside(r.minTs, r.maxTs) {
			w.countPruned()
			continue
		}
		var entries []*LogEntry
		if r.arc != nil {
			var err error
			entries, err = r.arc.load(w.reader, w.resolver)
			if err != nil {
				w.log.Warn("archive load failed", zap.String("path", r.arc.path), zap.Error(err))
			}
		} else {
			entries = r.seg.entries
		}
		if more, err := visitRun(entries); !more {
			return err
		}
	}
	return nil
}

func (w *LogWindow) countPruned() {
	w.pruned.Add(1)
	SegmentsPruned.Inc()
}

// Evict drops sealed segments and archives whose newest entry is older
// than before, plus the live segment if it is entirely older. It returns
// the number of in-memory entries released.
func (w *LogWindow) Evict(before time.Time) int {
	cutoff := before.Unix()

	w.mu.Lock()
	defer w.mu.Unlock()

	dropped := 0
	kept := w.sealed[:0]
	for _, s := range w.sealed {
		if s.maxTime() < cutoff {
			dropped += len(s.entries)
			continue
		}
		kept = append(kept, s)
	}
	clear(w.sealed[len(kept):])
	w.sealed = kept

	if n := len(w.live.entries); n > 0 && w.live.maxTime() < cutoff {
		dropped += n
		w.live = &segment{}
	}

	keptArchives := w.archives[:0]
	for _, a := range w.archives {
		if a.maxTs < cutoff {
			w.log.Info("archive expired", zap.String("path", a.path))
			continue
		}
		keptArchives = append(keptArchives, a)
	}
	clear(w.archives[len(keptArchives):])
	w.archives = keptArchives

	if dropped > 0 {
		w.log.Info("log entries evicted", zap.Int("entries", dropped), zap.Int64("before", cutoff))
	}
	return dropped
}

// RunEvictor applies the retention every interval until ctx is done.
func (w *LogWindow) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("evictor started", zap.Duration("retention", w.retention), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.retention <= 0 {
				continue
			}
			w.Evict(w.now().Add(-w.retention))
		}
	}
}

// Flush hands every sealed segment to the flush function and replaces it
// with the written archive. A segment stays in memory until its archive
// is registered, so scans running meanwhile still see its entries. A
// segment that fails is kept for the next Flush and the others proceed.
func (w *LogWindow) Flush() (int, error) {
	if w.flush == nil {
		return 0, nil
	}
	if w.reader == nil {
		return 0, ErrNoArchiveReader
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.RLock()
	sealed := slices.Clone(w.sealed)
	w.mu.RUnlock()

	flushed := 0
	var errs []error
	for _, s := range sealed {
		lines := make([]string, len(s.entries))
		for j, e := range s.entries {
			lines[j] = e.Message()
		}
		path, err := w.flush(lines)
		if err == nil {
			err = w.replaceSegment(s, path)
		}
		if err != nil {
			w.log.Warn("segment flush failed", zap.Int("entries", len(s.entries)), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		flushed += len(s.entries)
		w.log.Info("segment flushed", zap.String("path", path), zap.Int("entries", len(s.entries)))
	}
	if err := errors.Join(errs...); err != nil {
		return flushed, fmt.Errorf("flush segments: %w", err)
	}
	return flushed, nil
}

// replaceSegment registers the archive at path and drops s from memory
// under one lock, so no scan sees both or neither.
func (w *LogWindow) replaceSegment(s *segment, path string) error {
	minTs, maxTs, err := w.reader.Span(path)
	if err != nil {
		return fmt.Errorf("add archive %s: %w", path, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertArchive(&archive{path: path, minTs: minTs, maxTs: maxTs})
	w.sealed = slices.DeleteFunc(w.sealed, func(have *segment) bool { return have == s })
	return nil
}

// Len returns the number of entries held in memory.
func (w *LogWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := len(w.live.entries)
	for _, s := range w.sealed {
		n += len(s.entries)
	}
	return n
}
