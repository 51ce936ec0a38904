package http

import (
	"bytes"
	"context"
	"fmt"
	stdhttp "net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"growiclient/app/internal/db"
	"growiclient/app/internal/explorer"
	"growiclient/app/internal/growi"
	"growiclient/app/internal/http/templates"
	"growiclient/app/internal/pagefs"
	"growiclient/app/internal/wikipath"
)

const (
	htmlContentType     = "text/html; charset=utf-8"
	markdownContentType = "text/markdown; charset=utf-8"
	maxRenderedDepth    = 8
	settingsMessage     = "Configure the wiki URL and API token to browse pages."
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

type treeInput struct {
	Path string `query:"path" doc:"Page path to list. Empty lists the root."`
}

type treeResponse struct {
	Body struct {
		Path       string          `json:"path"`
		Configured bool            `json:"configured"`
		Loaded     bool            `json:"loaded"`
		Loading    bool            `json:"loading"`
		Done       bool            `json:"done"`
		Items      []explorer.Item `json:"items"`
	}
}

type pathInput struct {
	Body struct {
		Path string `json:"path,omitempty" doc:"Canonical page path"`
	}
}

type treeActionResponse struct {
	Status int
	Body   struct {
		Path string `json:"path"`
	}
}

type fileInput struct {
	Locator string `query:"locator" required:"true" doc:"Virtual file locator, growi:<path>.growi"`
}

type fileResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type writeFileInput struct {
	Locator   string `query:"locator" required:"true"`
	Create    bool   `query:"create"`
	Overwrite bool   `query:"overwrite"`
	RawBody   []byte
}

type writeFileResponse struct {
	Status int
}

type createPageResponse struct {
	Status int
	Body   struct {
		Path    string `json:"path"`
		Locator string `json:"locator"`
	}
}

type browserURLInput struct {
	Path string `query:"path" required:"true"`
	Edit bool   `query:"edit"`
}

type browserURLResponse struct {
	Body struct {
		URL string `json:"url"`
	}
}

func (s *Server) registerHomeRoute() {
	huma.Get(s.api, "/", s.homeHandler, htmlOperation("Page tree", stdhttp.StatusBadGateway))
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) registerTreeRoutes() {
	huma.Get(s.api, "/api/tree", s.treeHandler, func(op *huma.Operation) {
		op.Summary = "List tree items"
	})
	huma.Post(s.api, "/api/tree/refresh", s.refreshHandler, func(op *huma.Operation) {
		op.Summary = "Hard refresh a tree node"
	})
	huma.Post(s.api, "/api/tree/load-more", s.loadMoreHandler, func(op *huma.Operation) {
		op.Summary = "Load the next pages of a tree node"
	})
}

func (s *Server) registerFileRoutes() {
	huma.Get(s.api, "/api/files", s.readFileHandler, func(op *huma.Operation) {
		op.Summary = "Read a page body"
	})
	huma.Put(s.api, "/api/files", s.writeFileHandler, func(op *huma.Operation) {
		op.Summary = "Write a page body"
	})
}

func (s *Server) registerPageRoutes() {
	huma.Post(s.api, "/api/pages", s.createPageHandler, func(op *huma.Operation) {
		op.Summary = "Create a child page"
	})
	huma.Get(s.api, "/api/browser-url", s.browserURLHandler, func(op *huma.Operation) {
		op.Summary = "Browser address of a page"
	})
}

func (s *Server) homeHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	data := templates.TreePageData{Title: "Growi pages"}
	status := stdhttp.StatusOK

	root, err := s.tree.Root(ctx)
	switch {
	case err != nil:
		s.recordError(ctx, err, "resolving tree root", nil)
		status = stdhttp.StatusBadGateway
		data.Message = err.Error()
	case root == nil:
		data.Message = settingsMessage
	default:
		data.Rows = append(data.Rows, templates.TreeRow{Item: explorer.Present(*root)})
		data.Rows = s.appendRows(data.Rows, s.tree.Children(root.Path), 1)
	}

	body, err := renderComponent(ctx, templates.TreePage(data))
	if err != nil {
		s.recordError(ctx, err, "rendering tree page", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "The page tree could not be rendered.")
	}

	return newHTMLResponse(status, body), nil
}

// appendRows flattens cached subtrees. Only the root expansion may start a load; deeper nodes
// are read from the cache as they are.
func (s *Server) appendRows(rows []templates.TreeRow, entries []explorer.Entry, depth int) []templates.TreeRow {
	for _, entry := range entries {
		rows = append(rows, templates.TreeRow{Depth: depth, Item: explorer.Present(entry)})
		if entry.Kind != explorer.EntryPage || depth >= maxRenderedDepth {
			continue
		}
		if node, ok := s.tree.Node(entry.Path); ok && len(node.Children) > 0 {
			rows = s.appendRows(rows, node.Children, depth+1)
		}
	}
	return rows
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"

	if err := db.Ping(ctx, s.db); err != nil {
		s.recordError(ctx, err, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

func (s *Server) treeHandler(ctx context.Context, input *treeInput) (*treeResponse, error) {
	resp := &treeResponse{}
	resp.Body.Items = []explorer.Item{}

	if strings.TrimSpace(input.Path) == "" {
		root, err := s.tree.Root(ctx)
		if err != nil {
			return nil, s.apiError(ctx, err, "resolving tree root", nil)
		}
		if root == nil {
			return resp, nil
		}
		resp.Body.Configured = true
		resp.Body.Loaded = true
		resp.Body.Done = true
		resp.Body.Items = append(resp.Body.Items, explorer.Present(*root))
		return resp, nil
	}

	path := wikipath.Normalize(input.Path)
	resp.Body.Path = path
	resp.Body.Configured = true

	children := s.tree.Children(path)
	resp.Body.Items = append(resp.Body.Items, explorer.PresentAll(children)...)

	if node, ok := s.tree.Node(path); ok {
		resp.Body.Loaded = true
		resp.Body.Loading = node.Loading
		resp.Body.Done = node.Done
	}

	return resp, nil
}

func (s *Server) refreshHandler(_ context.Context, input *pathInput) (*treeActionResponse, error) {
	resp := &treeActionResponse{Status: stdhttp.StatusOK}

	if strings.TrimSpace(input.Body.Path) == "" {
		s.tree.Refresh("")
		return resp, nil
	}

	path := wikipath.Normalize(input.Body.Path)
	if !s.tree.Refresh(path) {
		return nil, huma.Error404NotFound(fmt.Sprintf("%s is not loaded in the tree", path))
	}
	resp.Body.Path = path
	return resp, nil
}

func (s *Server) loadMoreHandler(_ context.Context, input *pathInput) (*treeActionResponse, error) {
	path := wikipath.Normalize(input.Body.Path)

	if !s.tree.IsLoaded(path) {
		return nil, huma.Error404NotFound(fmt.Sprintf("%s is not loaded in the tree", path))
	}
	if !s.tree.LoadNextPages(path) {
		return nil, huma.Error409Conflict(fmt.Sprintf("%s is already loading", path))
	}

	resp := &treeActionResponse{Status: stdhttp.StatusAccepted}
	resp.Body.Path = path
	return resp, nil
}

func (s *Server) readFileHandler(ctx context.Context, input *fileInput) (*fileResponse, error) {
	body, err := s.files.ReadFile(ctx, input.Locator)
	if err != nil {
		return nil, s.apiError(ctx, err, "reading file", logrus.Fields{"locator": input.Locator})
	}

	return &fileResponse{ContentType: markdownContentType, Body: body}, nil
}

func (s *Server) writeFileHandler(ctx context.Context, input *writeFileInput) (*writeFileResponse, error) {
	opts := pagefs.WriteOptions{Create: input.Create, Overwrite: input.Overwrite}
	if err := s.files.WriteFile(ctx, input.Locator, input.RawBody, opts); err != nil {
		return nil, s.apiError(ctx, err, "writing file", logrus.Fields{"locator": input.Locator})
	}

	return &writeFileResponse{Status: stdhttp.StatusNoContent}, nil
}

func (s *Server) createPageHandler(ctx context.Context, input *pathInput) (*createPageResponse, error) {
	raw := strings.TrimSpace(input.Body.Path)
	if ok, message := wikipath.Validate(raw); !ok {
		return nil, huma.Error400BadRequest(message)
	}
	path := wikipath.Normalize(raw)

	exists, err := s.pages.PageExists(ctx, path)
	if err != nil {
		return nil, s.apiError(ctx, err, "probing page", logrus.Fields{"path": path})
	}
	if exists {
		return nil, s.apiError(ctx, growi.PageExists(path), "creating page", logrus.Fields{"path": path})
	}

	if _, err := s.pages.CreatePage(ctx, path, "# "+wikipath.Base(path)); err != nil {
		return nil, s.apiError(ctx, err, "creating page", logrus.Fields{"path": path})
	}

	s.tree.RefreshNearestLoaded(wikipath.Parent(path))

	resp := &createPageResponse{Status: stdhttp.StatusCreated}
	resp.Body.Path = path
	resp.Body.Locator = wikipath.ToLocator(path)
	return resp, nil
}

func (s *Server) browserURLHandler(ctx context.Context, input *browserURLInput) (*browserURLResponse, error) {
	address, err := s.pages.PageURL(input.Path, input.Edit)
	if err != nil {
		return nil, s.apiError(ctx, err, "building browser url", logrus.Fields{"path": input.Path})
	}

	resp := &browserURLResponse{}
	resp.Body.URL = address
	return resp, nil
}

// apiError maps a failure to its HTTP status. Only unexpected failures are reported.
func (s *Server) apiError(ctx context.Context, err error, message string, fields logrus.Fields) error {
	status := statusForError(err)
	if status >= stdhttp.StatusInternalServerError && status != stdhttp.StatusBadGateway {
		s.recordError(ctx, err, message, fields)
	} else if s.logger != nil {
		entry := s.logger.WithField("error", err.Error()).WithField("kind", growi.KindOf(err).String())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Warn(message)
	}

	return huma.NewError(status, userMessage(err))
}

func statusForError(err error) int {
	if eris.Is(err, pagefs.ErrNotImplemented) {
		return stdhttp.StatusNotImplemented
	}

	var typed *growi.Error
	if !eris.As(err, &typed) {
		return stdhttp.StatusInternalServerError
	}

	switch typed.Kind {
	case growi.KindSettingsUndefined:
		return stdhttp.StatusPreconditionFailed
	case growi.KindWikiURLInvalid:
		return stdhttp.StatusBadGateway
	case growi.KindAPITokenInvalid:
		return stdhttp.StatusUnauthorized
	case growi.KindPageNotFound:
		return stdhttp.StatusNotFound
	case growi.KindPageExists:
		return stdhttp.StatusConflict
	case growi.KindPageMovedToTrash:
		return stdhttp.StatusGone
	case growi.KindContentIsEmpty:
		return stdhttp.StatusBadRequest
	default:
		return stdhttp.StatusBadGateway
	}
}

func userMessage(err error) string {
	var typed *growi.Error
	if eris.As(err, &typed) {
		return typed.Error()
	}
	return "The request could not be completed."
}

func renderComponent(ctx context.Context, component templ.Component) ([]byte, error) {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return nil, eris.Wrap(err, "rendering component")
	}
	return buf.Bytes(), nil
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			code := strconv.Itoa(status)
			op.Responses[code] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))
	body, err := renderComponent(ctx, templates.ErrorPage(templates.ErrorPageData{
		StatusLabel: label,
		Message:     message,
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, templ.EscapeString(message)))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
