package explorer

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growiclient/app/internal/growi"
	"growiclient/app/internal/settings"
	"growiclient/app/internal/wikipath"
)

type fakeLister struct {
	mu       sync.Mutex
	pages    []string
	listErr  error
	rootErr  error
	onList   func(call int)
	requests []growi.ListOptions
	getPages int
	rootCtx  []error
}

func (f *fakeLister) GetPages(_ context.Context, path string, opts growi.ListOptions) (*growi.PageList, error) {
	f.mu.Lock()
	f.requests = append(f.requests, opts)
	call := len(f.requests)
	hook := f.onList
	listErr := f.listErr

	prefix := wikipath.Dir(path)
	var matched []string
	for _, page := range f.pages {
		if page == path || strings.HasPrefix(page, prefix) {
			matched = append(matched, page)
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if listErr != nil {
		return nil, listErr
	}

	start := min(opts.Offset, len(matched))
	end := min(start+opts.Limit, len(matched))
	list := &growi.PageList{TotalCount: len(matched), Limit: opts.Limit, Offset: opts.Offset}
	for _, page := range matched[start:end] {
		list.Pages = append(list.Pages, growi.PageSummary{ID: page, Path: page})
	}
	return list, nil
}

func (f *fakeLister) GetPage(ctx context.Context, path string) (*growi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getPages++
	f.rootCtx = append(f.rootCtx, ctx.Err())
	if f.rootErr != nil {
		return nil, f.rootErr
	}
	for _, page := range f.pages {
		if page == path {
			return &growi.Page{ID: path, Path: path}, nil
		}
	}
	return nil, growi.PageNotFound(path)
}

func (f *fakeLister) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLister) lastRequest() growi.ListOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newExplorer(t *testing.T, lister PageLister, provider settings.Provider, batchSize int) (*Explorer, *ManualScheduler) {
	t.Helper()

	scheduler := NewManualScheduler()
	explorer, err := New(Options{
		Client:    lister,
		Settings:  provider,
		Scheduler: scheduler,
		BatchSize: batchSize,
	})
	require.NoError(t, err)
	t.Cleanup(explorer.Close)

	return explorer, scheduler
}

func titles(entries []Entry) []string {
	var out []string
	for _, entry := range entries {
		if entry.Kind == EntryPage {
			out = append(out, entry.Title)
		}
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Client: &fakeLister{}})
	require.Error(t, err)

	_, err = New(Options{Client: &fakeLister{}, Settings: settings.Static{}})
	require.Error(t, err)
}

func TestExpandRootCollectsImmediateChildren(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/", "/a", "/a/x", "/b"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{RootPath: "/", MaxPagePerTime: 10}, 2)

	root, err := explorer.Root(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "root", root.Title)
	assert.True(t, root.IsRoot)

	assert.Empty(t, explorer.Children("/"))
	assert.Equal(t, 1, scheduler.Pending())

	ran := scheduler.Drain()
	assert.Equal(t, 2, ran)

	state, ok := explorer.Node("/")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, titles(state.Children))
	assert.True(t, state.Done)
	assert.False(t, state.Loading)
	assert.Equal(t, 4, state.NextOffset)
	assert.LessOrEqual(t, lister.requestCount(), 2)

	assert.True(t, explorer.IsLoaded("/a"))
	assert.True(t, explorer.IsLoaded("/b"))
	assert.False(t, explorer.IsLoaded("/a/x"))

	assert.Equal(t, []string{"a", "b"}, titles(explorer.Children("/")))
	assert.Zero(t, scheduler.Pending())
}

func TestDuplicateTitlesConsumeTheWholeBatch(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/a/x", "/a/y", "/a/z", "/b", "/c"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{MaxPagePerTime: 10}, 4)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")

	require.True(t, scheduler.Step())

	state, _ := explorer.Node("/")
	assert.Equal(t, []string{"a"}, titles(state.Children))
	assert.Equal(t, 4, state.NextOffset)
	assert.True(t, state.Loading)
	assert.False(t, state.Done)

	scheduler.Drain()

	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"a", "b", "c"}, titles(state.Children))
	assert.Equal(t, 6, state.NextOffset)
	assert.True(t, state.Done)
	assert.Equal(t, 4, lister.lastRequest().Offset)
}

func TestRepeatedExpansionIssuesOneRequest(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/b"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)

	explorer.Children("/")
	explorer.Children("/")
	assert.False(t, explorer.LoadNextPages("/"))
	assert.Equal(t, 1, scheduler.Pending())

	scheduler.Drain()
	assert.Equal(t, 1, lister.requestCount())

	explorer.Children("/")
	assert.Zero(t, scheduler.Pending())
	assert.Equal(t, 1, lister.requestCount())
}

func TestCeilingLeavesLoadMoreEntry(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/p1", "/p2", "/p3", "/p4", "/p5"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{MaxPagePerTime: 2}, 50)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()

	state, _ := explorer.Node("/")
	assert.Equal(t, []string{"p1", "p2"}, titles(state.Children))
	assert.Equal(t, 2, state.NextOffset)
	assert.True(t, state.Done)
	require.Len(t, state.Children, 3)
	assert.Equal(t, EntryLoadMore, state.Children[2].Kind)
	assert.False(t, state.Children[2].InProgress)

	var spinning []bool
	explorer.OnDidChange(func(path string) {
		if node, ok := explorer.Node(path); ok {
			last := node.Children[len(node.Children)-1]
			spinning = append(spinning, last.Kind == EntryLoadMore && last.InProgress)
		}
	})

	require.True(t, explorer.LoadNextPages("/"))
	scheduler.Drain()

	require.NotEmpty(t, spinning)
	assert.True(t, spinning[0])

	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, titles(state.Children))
	assert.Equal(t, 4, state.NextOffset)
	assert.Equal(t, EntryLoadMore, state.Children[len(state.Children)-1].Kind)

	require.True(t, explorer.LoadNextPages("/"))
	scheduler.Drain()

	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, titles(state.Children))
	assert.Equal(t, 5, state.NextOffset)
	assert.Len(t, state.Children, 5)
	assert.Equal(t, growi.ListOptions{Limit: 50, Offset: 4}, lister.lastRequest())
}

func TestEmptySubtreeOffersPageCreation(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	explorer, scheduler := newExplorer(t, lister, settings.Static{RootPath: "/docs/team"}, 50)

	root, err := explorer.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "team", root.Title)
	assert.Equal(t, "/docs/team", root.Path)

	explorer.Children("/docs/team")
	scheduler.Drain()

	state, _ := explorer.Node("/docs/team")
	require.Len(t, state.Children, 1)
	assert.Equal(t, Entry{Kind: EntryCreatePage, Path: "/docs/team"}, state.Children[0])
	assert.True(t, state.Done)
	assert.Zero(t, state.NextOffset)
}

func TestRefreshRestartsFromOffsetZero(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/a/b", "/c"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()
	explorer.Children("/a")
	scheduler.Drain()
	require.True(t, explorer.IsLoaded("/a/b"))

	var changed []string
	explorer.OnDidChange(func(path string) {
		changed = append(changed, path)
	})

	require.True(t, explorer.Refresh("/"))
	assert.Equal(t, []string{"/"}, changed)

	state, _ := explorer.Node("/")
	assert.Empty(t, state.Children)
	assert.Zero(t, state.NextOffset)
	assert.False(t, state.Done)
	assert.False(t, explorer.IsLoaded("/a/b"))

	explorer.Children("/")
	scheduler.Drain()

	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"a", "c"}, titles(state.Children))
	assert.Zero(t, lister.lastRequest().Offset)

	assert.False(t, explorer.Refresh("/missing"))
}

func TestRefreshDiscardsStaleContinuation(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/b"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)

	lister.onList = func(call int) {
		if call == 1 {
			explorer.Refresh("/")
		}
	}

	explorer.Children("/")
	scheduler.Drain()

	state, _ := explorer.Node("/")
	assert.Empty(t, state.Children)
	assert.Zero(t, state.NextOffset)
	assert.False(t, state.Loading)
	assert.False(t, state.Done)

	explorer.Children("/")
	scheduler.Drain()

	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"a", "b"}, titles(state.Children))
	assert.Equal(t, 2, lister.requestCount())
}

func TestSettingsChangeInvalidatesTree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := settings.NewStore(ctx, settings.StoreOptions{})
	require.NoError(t, err)

	lister := &fakeLister{pages: []string{"/a"}}
	explorer, scheduler := newExplorer(t, lister, store, 50)

	_, err = explorer.Root(ctx)
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()
	require.True(t, explorer.IsLoaded("/a"))

	var changed []string
	explorer.OnDidChange(func(path string) {
		changed = append(changed, path)
	})

	require.NoError(t, store.SetMaxPagePerTime(ctx, 5))

	assert.Equal(t, []string{""}, changed)
	assert.False(t, explorer.IsLoaded("/"))
	assert.Nil(t, explorer.Children("/"))

	_, err = explorer.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.getPages)
	assert.True(t, explorer.IsLoaded("/"))

	// Cached root is reused until the tree is invalidated again.
	_, err = explorer.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.getPages)

	require.NoError(t, store.SetRootPath(ctx, "/a"))
	root, err := explorer.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/a", root.Path)
	assert.Equal(t, "a", root.Title)
}

func TestLoadFailureReportsAndStops(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a"}, listErr: growi.APITokenInvalid()}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	var failures []string
	explorer.OnDidFail(func(path string, err error) {
		assert.ErrorIs(t, err, growi.ErrAPITokenInvalid)
		failures = append(failures, path)
	})

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()

	assert.Equal(t, []string{"/"}, failures)
	state, _ := explorer.Node("/")
	assert.True(t, state.Done)
	assert.False(t, state.Loading)
	assert.Empty(t, state.Children)

	explorer.Children("/")
	assert.Zero(t, scheduler.Pending())
}

func TestLoadFailureAfterCloseIsNotReported(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a"}, listErr: growi.Other(`Get "/_api/pages.list": context canceled`)}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)
	lister.onList = func(int) { explorer.Close() }

	var failures []error
	explorer.OnDidFail(func(_ string, err error) {
		failures = append(failures, err)
	})

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()

	assert.Empty(t, failures)
	state, _ := explorer.Node("/")
	assert.False(t, state.Loading)
}

func TestCursorOnlyRoundDoesNotEmitChange(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/a/x", "/a/y", "/a/z", "/b"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{MaxPagePerTime: 10}, 2)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)

	changes := 0
	explorer.OnDidChange(func(path string) {
		if path == "/" {
			changes++
		}
	})
	explorer.Children("/")

	// Each round announces itself once, and once more when it adds children.
	require.True(t, scheduler.Step())
	assert.Equal(t, 2, changes)

	changes = 0
	require.True(t, scheduler.Step())
	assert.Equal(t, 1, changes)
	state, _ := explorer.Node("/")
	assert.Equal(t, []string{"a"}, titles(state.Children))
	assert.Equal(t, 4, state.NextOffset)
	assert.True(t, state.Loading)

	changes = 0
	require.True(t, scheduler.Step())
	assert.Equal(t, 2, changes)
	state, _ = explorer.Node("/")
	assert.Equal(t, []string{"a", "b"}, titles(state.Children))
	assert.True(t, state.Done)
	assert.False(t, scheduler.Step())
}

func TestRootIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/"}}
	explorer, _ := newExplorer(t, lister, settings.Static{}, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root, err := explorer.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", root.Path)
	assert.Equal(t, []error{nil}, lister.rootCtx)
}

func TestLoadFailureWithMissingSettingsIsSuppressed(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{listErr: growi.SettingsUndefined(growi.SettingAPIToken)}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	failed := false
	explorer.OnDidFail(func(string, error) {
		failed = true
	})

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()

	assert.False(t, failed)
	state, _ := explorer.Node("/")
	assert.True(t, state.Done)
}

func TestRootErrors(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{rootErr: growi.SettingsUndefined(growi.SettingWikiURL)}
	explorer, _ := newExplorer(t, lister, settings.Static{}, 50)

	root, err := explorer.Root(context.Background())
	require.NoError(t, err)
	assert.Nil(t, root)
	assert.False(t, explorer.IsLoaded("/"))

	lister.rootErr = growi.WikiURLInvalid()
	_, err = explorer.Root(context.Background())
	require.ErrorIs(t, err, growi.ErrWikiURLInvalid)

	lister.rootErr = nil
	root, err = explorer.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", root.Path)
}

func TestRefreshNearestLoaded(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/b"}}
	explorer, scheduler := newExplorer(t, lister, settings.Static{}, 50)

	_, ok := explorer.RefreshNearestLoaded("/a/new")
	assert.False(t, ok)

	_, err := explorer.Root(context.Background())
	require.NoError(t, err)
	explorer.Children("/")
	scheduler.Drain()

	refreshed, ok := explorer.RefreshNearestLoaded("/a/new/deep")
	require.True(t, ok)
	assert.Equal(t, "/a", refreshed)
	assert.True(t, explorer.IsLoaded("/b"))

	refreshed, ok = explorer.RefreshNearestLoaded("/zzz")
	require.True(t, ok)
	assert.Equal(t, wikipath.Root, refreshed)
}

func TestGoroutineSchedulerCompletesLoad(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: []string{"/a", "/a/b", "/c", "/d"}}
	scheduler := NewGoroutineScheduler()
	explorer, err := New(Options{
		Client:    lister,
		Settings:  settings.Static{},
		Scheduler: scheduler,
		BatchSize: 1,
	})
	require.NoError(t, err)
	defer explorer.Close()

	_, err = explorer.Root(context.Background())
	require.NoError(t, err)

	explorer.Children("/")
	scheduler.Wait()

	state, _ := explorer.Node("/")
	assert.Equal(t, []string{"a", "c", "d"}, titles(state.Children))
	assert.True(t, state.Done)
	assert.Equal(t, 4, state.NextOffset)
}
