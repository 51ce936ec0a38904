package growi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growiclient/app/internal/settings"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{
		Settings: settings.Static{WikiURL: server.URL + "/", APIToken: "abc%2Bdef"},
	})
	require.NoError(t, err)
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func TestNewClientRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}

func TestCallsFailWithSettingsUndefined(t *testing.T) {
	t.Parallel()

	client, err := NewClient(ClientOptions{Settings: settings.Static{}})
	require.NoError(t, err)

	_, err = client.GetPages(context.Background(), "/", ListOptions{Limit: 10})
	require.ErrorIs(t, err, ErrSettingsUndefined)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, []string{SettingWikiURL, SettingAPIToken}, typed.Settings)

	client, err = NewClient(ClientOptions{Settings: settings.Static{WikiURL: "http://wiki/"}})
	require.NoError(t, err)

	_, err = client.GetPage(context.Background(), "/a")
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, []string{SettingAPIToken}, typed.Settings)

	address, err := client.PageURL("/a", false)
	require.NoError(t, err)
	assert.Equal(t, "http://wiki/a", address)
}

func TestGetPagesSendsCursorAndDecodesList(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_api/pages.list", r.URL.Path)
		assert.Equal(t, "abc+def", r.URL.Query().Get("access_token"))
		assert.Equal(t, "/docs/", r.URL.Query().Get("path"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "4", r.URL.Query().Get("offset"))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"ok": true,
			"pages": []map[string]any{
				{"id": "1", "path": "/docs/a"},
				{"_id": "2", "path": "/docs/b", "revision": "r2"},
			},
			"totalCount": 6,
			"limit":      2,
			"offset":     4,
		})
	})

	list, err := client.GetPages(context.Background(), "/docs", ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)

	assert.Equal(t, 6, list.TotalCount)
	assert.Equal(t, []PageSummary{{ID: "1", Path: "/docs/a"}, {ID: "2", Path: "/docs/b"}}, list.Pages)
}

func TestForbiddenMapsToAPITokenInvalidOnEveryCall(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	ctx := context.Background()

	calls := map[string]func() error{
		"GetPages": func() error {
			_, err := client.GetPages(ctx, "/", ListOptions{Limit: 1})
			return err
		},
		"GetPage": func() error {
			_, err := client.GetPage(ctx, "/a")
			return err
		},
		"UpdatePage": func() error {
			_, err := client.UpdatePage(ctx, "/a", "body")
			return err
		},
		"PageExists": func() error {
			_, err := client.PageExists(ctx, "/a")
			return err
		},
		"CreatePage": func() error {
			_, err := client.CreatePage(ctx, "/a", "body")
			return err
		},
	}

	for name, call := range calls {
		err := call()
		assert.ErrorIs(t, err, ErrAPITokenInvalid, name)
		assert.Equal(t, KindAPITokenInvalid, KindOf(err), name)
	}
}

func TestConnectionRefusedMapsToWikiURLInvalidOnEveryCall(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL + "/"
	server.Close()

	client, err := NewClient(ClientOptions{Settings: settings.Static{WikiURL: address, APIToken: "token"}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetPages(ctx, "/", ListOptions{Limit: 1})
	assert.ErrorIs(t, err, ErrWikiURLInvalid)
	_, err = client.GetPage(ctx, "/a")
	assert.ErrorIs(t, err, ErrWikiURLInvalid)
	_, err = client.UpdatePage(ctx, "/a", "body")
	assert.ErrorIs(t, err, ErrWikiURLInvalid)
	_, err = client.PageExists(ctx, "/a")
	assert.ErrorIs(t, err, ErrWikiURLInvalid)
	_, err = client.CreatePage(ctx, "/a", "body")
	assert.ErrorIs(t, err, ErrWikiURLInvalid)
}

func TestNotFoundStatusMapsToWikiURLInvalid(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	_, err := client.GetPage(context.Background(), "/a")
	require.ErrorIs(t, err, ErrWikiURLInvalid)
}

func TestGetPageDetectsTrashRedirect(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/team/a", r.URL.Query().Get("path"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"ok":   true,
			"page": map[string]any{"id": "1", "path": "/team/a", "redirectTo": "/trash/team/a"},
		})
	})

	_, err := client.GetPage(context.Background(), "team/a/")
	require.ErrorIs(t, err, ErrPageMovedToTrash)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "/team/a", typed.Path)
}

func TestGetPageExtractsNotFoundPath(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"ok":    false,
			"error": "Error: Page '/missing/page' is not found or forbidden",
		})
	})

	_, err := client.GetPage(context.Background(), "/other")
	require.ErrorIs(t, err, ErrPageNotFound)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "/missing/page", typed.Path)
}

func TestUnknownApplicationErrorKeepsMessage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"ok": false, "error": "database is on fire"})
	})

	_, err := client.GetPage(context.Background(), "/a")
	require.ErrorIs(t, err, ErrOther)
	assert.Equal(t, "database is on fire", err.Error())
}

func TestUpdatePageSendsFreshRevision(t *testing.T) {
	t.Parallel()

	var updated atomic.Bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/_api/pages.get":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"ok": true,
				"page": map[string]any{
					"id":       "page-1",
					"path":     "/a",
					"revision": map[string]any{"_id": "rev-7", "body": "old"},
				},
			})
		case "/_api/pages.update":
			var request updateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			assert.Equal(t, "page-1", request.PageID)
			assert.Equal(t, "rev-7", request.RevisionID)
			assert.Equal(t, "new", request.Body)
			assert.Equal(t, "abc+def", request.AccessToken)
			updated.Store(true)

			writeJSON(t, w, http.StatusOK, map[string]any{
				"ok": true,
				"page": map[string]any{
					"id":       "page-1",
					"path":     "/a",
					"revision": map[string]any{"_id": "rev-8", "body": "new"},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	page, err := client.UpdatePage(context.Background(), "/a", "new")
	require.NoError(t, err)
	assert.True(t, updated.Load())
	assert.Equal(t, "rev-8", page.Revision.ID)
	assert.Equal(t, "new", page.Revision.Body)
}

func TestPageExistsTreatsNotFoundAsFalse(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pagePaths") {
		case `["/present"]`:
			writeJSON(t, w, http.StatusOK, map[string]any{"ok": true, "pages": map[string]bool{"/present": true}})
		default:
			writeJSON(t, w, http.StatusOK, map[string]any{
				"ok":    false,
				"error": "Page '/absent' is not found or forbidden",
			})
		}
	})
	ctx := context.Background()

	exists, err := client.PageExists(ctx, "/present")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.PageExists(ctx, "/absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreatePageMapsDuplicateToPageExists(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_api/v3/pages", r.URL.Path)
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{
			"errors": []map[string]any{{"code": "page_exists", "message": "Page exists"}},
		})
	})

	_, err := client.CreatePage(context.Background(), "/a", "# a")
	require.ErrorIs(t, err, ErrPageExists)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "/a", typed.Path)
}

func TestCreatePageMergesInitialRevision(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var request createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "/new", request.Path)

		writeJSON(t, w, http.StatusCreated, map[string]any{
			"data": map[string]any{
				"page":     map[string]any{"_id": "p1", "path": "/new", "revision": "r1"},
				"revision": map[string]any{"_id": "r1", "body": "# new", "format": "markdown"},
			},
		})
	})

	page, err := client.CreatePage(context.Background(), "/new", "# new")
	require.NoError(t, err)
	assert.Equal(t, "p1", page.ID)
	assert.Equal(t, Revision{ID: "r1", Body: "# new", Format: "markdown"}, page.Revision)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	client, err := NewClient(ClientOptions{Settings: settings.Static{}})
	require.NoError(t, err)

	_, err = client.PageURL("/a", false)
	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, []string{SettingWikiURL}, typed.Settings)

	client, err = NewClient(ClientOptions{Settings: settings.Static{WikiURL: "https://wiki.example.com/"}})
	require.NoError(t, err)

	address, err := client.PageURL("/team/a", true)
	require.NoError(t, err)
	assert.Equal(t, "https://wiki.example.com/team/a#edit", address)

	address, err = client.PageURL("/team/meeting notes/議事録", false)
	require.NoError(t, err)
	assert.Equal(t, "https://wiki.example.com/team/meeting%20notes/%E8%AD%B0%E4%BA%8B%E9%8C%B2", address)
}

func TestTransportFailuresNeverExposeToken(t *testing.T) {
	t.Parallel()

	const token = "SECRET-TOKEN"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(server.Close)

	dropped, err := NewClient(ClientOptions{Settings: settings.Static{WikiURL: server.URL + "/", APIToken: token}})
	require.NoError(t, err)
	noScheme, err := NewClient(ClientOptions{Settings: settings.Static{WikiURL: "wiki.example.com/", APIToken: token}})
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		call func() error
	}{
		{"connection closed", func() error {
			_, err := dropped.GetPages(context.Background(), "/", ListOptions{Limit: 5})
			return err
		}},
		{"missing scheme", func() error {
			_, err := noScheme.GetPage(context.Background(), "/a")
			return err
		}},
		{"canceled", func() error {
			_, err := dropped.GetPage(canceled, "/a")
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)

			var typed *Error
			require.ErrorAs(t, err, &typed)
			assert.NotContains(t, err.Error(), token)
			assert.NotContains(t, typed.Message, token)
		})
	}
}
