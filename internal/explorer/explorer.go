// Package explorer keeps a lazily loaded, paginated cache of the wiki page tree.
//
// Expansion never waits on the network. Children returns the cached snapshot and, when the
// node has not been fully loaded, schedules one background continuation. Continuations
// fetch one batch at a time, merge the immediate child titles into the node and either
// reschedule themselves or stop at the per-expansion ceiling with a "load more" entry.
package explorer

import (
	"context"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/singleflight"

	"growiclient/app/internal/growi"
	"growiclient/app/internal/settings"
	"growiclient/app/internal/wikipath"
)

// DefaultBatchSize is the number of summaries requested per network fetch.
const DefaultBatchSize = 50

// PageLister is the part of the wiki client the explorer needs.
type PageLister interface {
	GetPages(ctx context.Context, path string, opts growi.ListOptions) (*growi.PageList, error)
	GetPage(ctx context.Context, path string) (*growi.Page, error)
}

var _ PageLister = (*growi.Client)(nil)

// EntryKind distinguishes real pages from sentinel entries.
type EntryKind int

// Entry kinds.
const (
	EntryPage EntryKind = iota
	EntryCreatePage
	EntryLoadMore
)

// Entry is one row of a children snapshot. Sentinels carry the path of their parent.
type Entry struct {
	Kind       EntryKind
	Path       string
	Title      string
	IsRoot     bool
	InProgress bool
}

// NodeState is an inspection snapshot of a cached node.
type NodeState struct {
	Path       string
	Children   []Entry
	NextOffset int
	Loading    bool
	Done       bool
	Generation uint64
}

// Options configures an Explorer.
type Options struct {
	Client    PageLister
	Settings  settings.Provider
	Scheduler Scheduler
	BatchSize int
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type pageNode struct {
	path       string
	title      string
	children   *orderedmap.OrderedMap[string, *pageNode]
	nextOffset int
	loading    bool
	done       bool
	generation uint64

	createPage       bool
	loadMore         bool
	loadMoreProgress bool
}

func newPageNode(path, title string, generation uint64) *pageNode {
	return &pageNode{
		path:       path,
		title:      title,
		children:   orderedmap.New[string, *pageNode](),
		generation: generation,
	}
}

// Explorer is the page tree provider.
type Explorer struct {
	client    PageLister
	settings  settings.Provider
	scheduler Scheduler
	batchSize int
	logger    *logrus.Logger
	sentryHub *sentry.Hub

	ctx    context.Context
	cancel context.CancelFunc
	roots  singleflight.Group

	mu         sync.Mutex
	root       *pageNode
	nodes      map[string]*pageNode
	generation uint64

	listenerMu       sync.Mutex
	changeListeners  map[int]func(string)
	failureListeners map[int]func(string, error)
	nextListenerID   int

	unsubscribe func()
}

// New constructs an Explorer and subscribes it to settings changes.
func New(opts Options) (*Explorer, error) {
	if opts.Client == nil {
		return nil, eris.New("page client is required")
	}
	if opts.Settings == nil {
		return nil, eris.New("settings provider is required")
	}
	if opts.Scheduler == nil {
		return nil, eris.New("scheduler is required")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Explorer{
		client:           opts.Client,
		settings:         opts.Settings,
		scheduler:        opts.Scheduler,
		batchSize:        batchSize,
		logger:           opts.Logger,
		sentryHub:        opts.SentryHub,
		ctx:              ctx,
		cancel:           cancel,
		nodes:            make(map[string]*pageNode),
		changeListeners:  make(map[int]func(string)),
		failureListeners: make(map[int]func(string, error)),
	}
	e.unsubscribe = opts.Settings.Subscribe(e.onSettingsChanged)

	return e, nil
}

// Close stops listening to settings and cancels in-flight continuations.
func (e *Explorer) Close() {
	e.unsubscribe()
	e.cancel()
}

// Root returns the root entry, building it and clearing the cache when the tree has been
// invalidated. Missing settings yield a nil entry without error. A missing root page is fine.
func (e *Explorer) Root(ctx context.Context) (*Entry, error) {
	rootPath := wikipath.Normalize(e.settings.Current().RootPath)

	e.mu.Lock()
	if e.root != nil && e.root.path == rootPath {
		entry := rootEntry(e.root)
		e.mu.Unlock()
		return &entry, nil
	}
	e.mu.Unlock()

	// Waiters share the result, so one caller's cancellation must not fail the others.
	shared := context.WithoutCancel(ctx)
	value, err, _ := e.roots.Do(rootPath, func() (any, error) {
		if _, err := e.client.GetPage(shared, rootPath); err != nil && !eris.Is(err, growi.ErrPageNotFound) {
			return nil, err
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		e.generation++
		root := newPageNode(rootPath, rootTitle(rootPath), e.generation)
		e.root = root
		e.nodes = map[string]*pageNode{rootPath: root}

		return rootEntry(root), nil
	})
	if err != nil {
		if eris.Is(err, growi.ErrSettingsUndefined) {
			return nil, nil
		}
		return nil, err
	}

	entry := value.(Entry)
	return &entry, nil
}

// Children returns the cached children of path. When the node is neither loading nor done a
// background continuation is scheduled and the current snapshot is returned right away.
// Unknown paths yield nil.
func (e *Explorer) Children(path string) []Entry {
	path = wikipath.Normalize(path)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[path]
	if !ok {
		return nil
	}
	if !node.loading && !node.done {
		e.startLocked(node, 0)
	}
	return node.entries()
}

// LoadNextPages continues pagination of a node from its cursor with a fresh ceiling. It
// reports false when the node is unknown or already loading.
func (e *Explorer) LoadNextPages(path string) bool {
	path = wikipath.Normalize(path)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[path]
	if !ok || node.loading {
		return false
	}
	e.startLocked(node, 0)
	return true
}

// Refresh hard-resets a cached node: its cursor, done flag and children are cleared and the
// next expansion restarts from offset zero. An empty path invalidates the whole tree.
// It reports false when the node is not cached.
func (e *Explorer) Refresh(path string) bool {
	if strings.TrimSpace(path) == "" {
		e.invalidate()
		return true
	}
	path = wikipath.Normalize(path)

	e.mu.Lock()
	node, ok := e.nodes[path]
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.resetLocked(node)
	e.mu.Unlock()

	e.emit(path)
	return true
}

// RefreshNearestLoaded hard-refreshes the closest cached ancestor of path, path included.
// It returns the refreshed path, or false when nothing on the way to the root is cached.
func (e *Explorer) RefreshNearestLoaded(path string) (string, bool) {
	current := wikipath.Normalize(path)
	for {
		if e.IsLoaded(current) {
			return current, e.Refresh(current)
		}
		if current == wikipath.Root {
			return "", false
		}
		current = wikipath.Parent(current)
	}
}

// IsLoaded reports whether path has a cached node.
func (e *Explorer) IsLoaded(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.nodes[wikipath.Normalize(path)]
	return ok
}

// Node returns an inspection snapshot of a cached node.
func (e *Explorer) Node(path string) (NodeState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[wikipath.Normalize(path)]
	if !ok {
		return NodeState{}, false
	}

	return NodeState{
		Path:       node.path,
		Children:   node.entries(),
		NextOffset: node.nextOffset,
		Loading:    node.loading,
		Done:       node.done,
		Generation: node.generation,
	}, true
}

// OnDidChange registers a listener for tree changes. The listener receives the changed path,
// or an empty string when the whole tree was invalidated.
func (e *Explorer) OnDidChange(listener func(path string)) func() {
	e.listenerMu.Lock()
	id := e.nextListenerID
	e.nextListenerID++
	e.changeListeners[id] = listener
	e.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenerMu.Lock()
			delete(e.changeListeners, id)
			e.listenerMu.Unlock()
		})
	}
}

// OnDidFail registers a listener for background load failures. Missing settings are not reported.
func (e *Explorer) OnDidFail(listener func(path string, err error)) func() {
	e.listenerMu.Lock()
	id := e.nextListenerID
	e.nextListenerID++
	e.failureListeners[id] = listener
	e.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenerMu.Lock()
			delete(e.failureListeners, id)
			e.listenerMu.Unlock()
		})
	}
}

func (e *Explorer) onSettingsChanged(name settings.Name) {
	switch name {
	case settings.NameWikiURL, settings.NameAPIToken, settings.NameRootPath, settings.NameMaxPagePerTime:
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"component": "explorer",
				"setting":   string(name),
			}).Debug("settings changed, invalidating page tree")
		}
		e.invalidate()
	}
}

func (e *Explorer) invalidate() {
	e.mu.Lock()
	e.generation++
	e.root = nil
	e.nodes = make(map[string]*pageNode)
	e.mu.Unlock()

	e.emit("")
}

// startLocked marks the node loading before scheduling so repeated expansions cannot start a
// second continuation.
func (e *Explorer) startLocked(node *pageNode, count int) {
	node.loading = true
	node.done = false
	generation := node.generation
	e.scheduler.Schedule(func() {
		e.loadChildren(node, generation, count)
	})
}

func (e *Explorer) resetLocked(node *pageNode) {
	e.generation++
	node.generation = e.generation
	node.nextOffset = 0
	node.loading = false
	node.done = false
	node.createPage = false
	node.loadMore = false
	node.loadMoreProgress = false
	node.children = orderedmap.New[string, *pageNode]()

	prefix := wikipath.Dir(node.path)
	for path := range e.nodes {
		if path != node.path && strings.HasPrefix(path, prefix) {
			delete(e.nodes, path)
		}
	}
}

// currentLocked reports whether a continuation started for generation still owns node.
func (e *Explorer) currentLocked(node *pageNode, generation uint64) bool {
	return node.generation == generation && e.nodes[node.path] == node
}

func (e *Explorer) loadChildren(node *pageNode, generation uint64, count int) {
	e.mu.Lock()
	if !e.currentLocked(node, generation) {
		e.mu.Unlock()
		return
	}
	node.loading = true
	if node.loadMore {
		node.loadMoreProgress = true
	}
	path := node.path
	offset := node.nextOffset
	e.mu.Unlock()

	e.emit(path)

	list, err := e.client.GetPages(e.ctx, path, growi.ListOptions{Limit: e.batchSize, Offset: offset})

	e.mu.Lock()
	if !e.currentLocked(node, generation) {
		e.mu.Unlock()
		e.logDebug(path, offset, "discarding stale page batch")
		return
	}

	if err != nil {
		node.loading = false
		node.done = true
		node.loadMoreProgress = false
		e.mu.Unlock()

		if e.ctx.Err() != nil {
			e.logDebug(path, offset, "page batch abandoned on close")
			return
		}
		if !eris.Is(err, growi.ErrSettingsUndefined) {
			e.recordError(err, "loading child pages failed", logrus.Fields{"path": path, "offset": offset, "limit": e.batchSize})
			e.fail(path, err)
		}
		e.emit(path)
		return
	}

	if list.TotalCount == 0 {
		node.nextOffset = 0
		node.loading = false
		node.done = true
		node.children = orderedmap.New[string, *pageNode]()
		node.loadMore = false
		node.loadMoreProgress = false
		node.createPage = true
		e.mu.Unlock()

		e.emit(path)
		return
	}

	ceiling := e.settings.Current().MaxPagePerTime
	prefix := wikipath.Dir(path)
	consumed := len(list.Pages)
	ceilingHit := false
	added := 0

	for idx, summary := range list.Pages {
		pagePath := wikipath.Normalize(summary.Path)
		if pagePath == path {
			continue
		}
		rest, ok := strings.CutPrefix(pagePath, prefix)
		if !ok || rest == "" {
			continue
		}
		title, _, _ := strings.Cut(rest, "/")
		if _, exists := node.children.Get(title); exists {
			continue
		}

		childPath := wikipath.Join(path, title)
		child := newPageNode(childPath, title, node.generation)
		node.children.Set(title, child)
		e.nodes[childPath] = child
		added++
		count++

		if count >= ceiling {
			ceilingHit = true
			consumed = idx + 1
			break
		}
	}

	node.nextOffset += consumed
	node.createPage = false
	node.loadMore = false
	node.loadMoreProgress = false

	hasMore := node.nextOffset < list.TotalCount && (len(list.Pages) == e.batchSize || consumed < len(list.Pages))

	if !ceilingHit && hasMore {
		node.loading = true
		node.done = false
		e.startLocked(node, count)
		e.mu.Unlock()

		if added > 0 {
			e.emit(path)
		}
		return
	}

	node.loading = false
	node.done = true
	node.loadMore = hasMore
	nextOffset := node.nextOffset
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"component":   "explorer",
			"path":        path,
			"next_offset": nextOffset,
			"total_count": list.TotalCount,
			"has_more":    hasMore,
		}).Debug("child pages loaded")
	}
	e.emit(path)
}

func (n *pageNode) entries() []Entry {
	entries := make([]Entry, 0, n.children.Len()+1)
	for pair := n.children.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, Entry{Kind: EntryPage, Path: pair.Value.path, Title: pair.Key})
	}
	switch {
	case n.createPage:
		entries = append(entries, Entry{Kind: EntryCreatePage, Path: n.path})
	case n.loadMore:
		entries = append(entries, Entry{Kind: EntryLoadMore, Path: n.path, InProgress: n.loadMoreProgress})
	}
	return entries
}

func rootEntry(root *pageNode) Entry {
	return Entry{Kind: EntryPage, Path: root.path, Title: root.title, IsRoot: true}
}

func rootTitle(rootPath string) string {
	if rootPath == wikipath.Root {
		return "root"
	}
	return wikipath.Base(rootPath)
}

func (e *Explorer) emit(path string) {
	e.listenerMu.Lock()
	listeners := make([]func(string), 0, len(e.changeListeners))
	for _, listener := range e.changeListeners {
		listeners = append(listeners, listener)
	}
	e.listenerMu.Unlock()

	for _, listener := range listeners {
		listener(path)
	}
}

func (e *Explorer) fail(path string, err error) {
	e.listenerMu.Lock()
	listeners := make([]func(string, error), 0, len(e.failureListeners))
	for _, listener := range e.failureListeners {
		listeners = append(listeners, listener)
	}
	e.listenerMu.Unlock()

	for _, listener := range listeners {
		listener(path, err)
	}
}

func (e *Explorer) logDebug(path string, offset int, message string) {
	if e.logger == nil {
		return
	}
	e.logger.WithFields(logrus.Fields{
		"component": "explorer",
		"path":      path,
		"offset":    offset,
	}).Debug(message)
}

func (e *Explorer) recordError(err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if e.logger != nil {
		entry := e.logger.WithField("error", err.Error()).WithField("component", "explorer")
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if e.sentryHub != nil {
		e.sentryHub.CaptureException(err)
	}
}
